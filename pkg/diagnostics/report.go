package diagnostics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
)

// Output formats accepted by Render
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Report is the result of a diagnostic run
type Report struct {
	State       State                   `json:"state" yaml:"state"`
	Ready       bool                    `json:"ready" yaml:"ready"`
	Probes      []ProbeResult           `json:"probes" yaml:"probes"`
	Status      *schema.ReadinessReport `json:"status,omitempty" yaml:"status,omitempty"`
	StatusError string                  `json:"status_error,omitempty" yaml:"status_error,omitempty"`
	Missing     []string                `json:"missing,omitempty" yaml:"missing,omitempty"`
	Remediation string                  `json:"remediation,omitempty" yaml:"remediation,omitempty"`
	Attempts    int                     `json:"attempts" yaml:"attempts"`
	Fixes       []ProbeResult           `json:"fixes,omitempty" yaml:"fixes,omitempty"`
}

func (r *Report) add(p ProbeResult) {
	r.Probes = append(r.Probes, p)
}

// Probe returns the named probe result, if it ran
func (r *Report) Probe(name string) (ProbeResult, bool) {
	for _, p := range r.Probes {
		if p.Name == name {
			return p, true
		}
	}
	return ProbeResult{}, false
}

// finish derives the summary fields from State and Probes
func (r *Report) finish() {
	r.Ready = r.State == StateReady
	if r.Status != nil {
		r.Missing = r.Status.Missing()
	}
	r.Remediation = ""
	if r.Ready {
		return
	}

	parts := []string{r.State.Instructions()}
	if n := len(r.Probes); n > 0 {
		failed := r.Probes[n-1]
		if !failed.OK && failed.Signature != "" && failed.Signature != errcode.SigUnknown {
			parts = append(parts, failed.Signature.Remediation())
		}
	}
	r.Remediation = strings.Join(parts, " ")
}

// HealthLines returns the minimal host, bridge and ready summary
func (r *Report) HealthLines() []string {
	host, _ := r.Probe(ProbeHost)
	edge, _ := r.Probe(ProbeEdge)
	return []string{
		"host: " + okFail(host.OK),
		"bridge: " + okFail(edge.OK),
		"ready: " + yesNo(r.Ready),
	}
}

// Healthy reports whether every health line is positive
func (r *Report) Healthy() bool {
	host, _ := r.Probe(ProbeHost)
	edge, _ := r.Probe(ProbeEdge)
	return host.OK && edge.OK && r.Ready
}

// Render writes the report in format
func (r *Report) Render(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return r.renderText(w)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

func (r *Report) renderText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", r.State)
	for _, p := range r.Probes {
		line := fmt.Sprintf("  [%s] %-10s %s", okFail(p.OK), p.Name, p.Kind)
		if p.Status != 0 {
			line += fmt.Sprintf(" (%d)", p.Status)
		}
		line += fmt.Sprintf(" %dms", p.LatencyMS)
		if p.Detail != "" {
			line += ": " + p.Detail
		}
		b.WriteString(line + "\n")
	}
	for _, f := range r.Fixes {
		fmt.Fprintf(&b, "  fix %-10s %s %s\n", f.Name, okFail(f.OK), f.Detail)
	}

	if r.Status != nil {
		b.WriteString("schema:\n")
		names := make([]string, 0, len(r.Status.Tables))
		for name := range r.Status.Tables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			t := r.Status.Tables[name]
			fmt.Fprintf(&b, "  %-10s exists=%t rls=%t trigger=%t policies=%d\n",
				name, t.Exists, t.RLSEnabled, t.TriggerPresent, t.PolicyCount)
		}
		for _, m := range r.Missing {
			fmt.Fprintf(&b, "  missing: %s\n", m)
		}
	} else if r.StatusError != "" {
		fmt.Fprintf(&b, "schema: unavailable (%s)\n", r.StatusError)
	}

	if r.Attempts > 0 {
		fmt.Fprintf(&b, "fix attempts: %d\n", r.Attempts)
	}
	fmt.Fprintf(&b, "ready: %s\n", yesNo(r.Ready))
	if r.Remediation != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Remediation)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func okFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}

func yesNo(ok bool) string {
	if ok {
		return "YES"
	}
	return "NO"
}
