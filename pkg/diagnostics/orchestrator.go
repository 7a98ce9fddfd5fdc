package diagnostics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
)

// Defaults
const (
	DefaultProbeTimeout   = 3 * time.Second
	DefaultMaxFixAttempts = 2
	// ProbeTable is read during the round trip to prove RLS accepts the minted token
	ProbeTable = "profiles"
)

// Config configures an Orchestrator
type Config struct {
	PlatformURL  string
	FunctionsURL string
	// APIKey is sent as the apikey header on every request
	APIKey string
	// TestToken is an identity provider token used to call the bridge
	TestToken string

	ProbeTimeout   time.Duration
	MaxFixAttempts int

	HTTPClient *http.Client
	Metrics    *observability.Metrics
	Logger     *observability.Logger
}

// Fixer repairs a fixable state
type Fixer interface {
	Fix(ctx context.Context, state State) (ProbeResult, error)
}

// FixerFunc adapts a function to Fixer
type FixerFunc func(ctx context.Context, state State) (ProbeResult, error)

// Fix calls f
func (f FixerFunc) Fix(ctx context.Context, state State) (ProbeResult, error) {
	return f(ctx, state)
}

// Orchestrator runs the layered checks against live endpoints
type Orchestrator struct {
	config Config
	client *http.Client
	fixers []Fixer
}

// New creates an Orchestrator. The bootstrap endpoint is always the last
// fixer tried.
func New(config Config, fixers ...Fixer) *Orchestrator {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.MaxFixAttempts <= 0 {
		config.MaxFixAttempts = DefaultMaxFixAttempts
	}
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.ErrorLevel, nil)
	}
	config.PlatformURL = strings.TrimRight(config.PlatformURL, "/")
	config.FunctionsURL = strings.TrimRight(config.FunctionsURL, "/")
	if config.FunctionsURL == "" && config.PlatformURL != "" {
		config.FunctionsURL = config.PlatformURL + "/functions/v1"
	}

	client := config.HTTPClient
	if client == nil {
		client = observability.InstrumentedClient(0)
	}

	o := &Orchestrator{config: config, client: client}
	o.fixers = append(fixers, FixerFunc(o.bootstrapFix))
	return o
}

// Run performs one pass of the checks. Checks run in dependency order and
// stop at the first failure. The status endpoint is always queried alongside
// so the report carries a readiness snapshot whenever one is available.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	ctx, span := observability.StartSpan(ctx, "diagnostics.Run")
	defer observability.EndSpan(span, nil)

	report := &Report{}

	var (
		status     ProbeResult
		statusBody *bridgeResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer observability.RecoverPanic(o.config.Logger, "status probe")
		status, statusBody = o.probeStatus(gctx)
		return nil
	})

	report.State = o.chain(ctx, report, func() (ProbeResult, *bridgeResponse) {
		_ = g.Wait()
		return status, statusBody
	})
	_ = g.Wait()

	if statusBody != nil && statusBody.Status != nil {
		report.Status = statusBody.Status
	} else if !status.OK {
		report.StatusError = status.Detail
	}

	report.finish()
	return report
}

func (o *Orchestrator) chain(ctx context.Context, report *Report, awaitStatus func() (ProbeResult, *bridgeResponse)) State {
	host := o.probeHost(ctx)
	report.add(host)
	if !host.OK {
		return StateHostUnreachable
	}

	edge := o.probeEdge(ctx)
	report.add(edge)
	if !edge.OK {
		return StateEdgeNotDeployed
	}

	status, body := awaitStatus()
	report.add(status)
	switch {
	case status.Kind == KindRPCMissing:
		return StateRPCMissing
	case status.Signature == errcode.SigNotDeployed, status.Kind == KindTimeout, status.Kind == KindNetwork:
		return StateEdgeNotDeployed
	case !status.OK:
		return StateBridgeUnauthorized
	case body.Status == nil || !body.Status.Ready:
		return StateSchemaIncomplete
	}

	federate, token := o.probeFederate(ctx)
	report.add(federate)
	if !federate.OK {
		return StateBridgeUnauthorized
	}

	roundTrip := o.probeRoundTrip(ctx, token)
	report.add(roundTrip)
	if !roundTrip.OK {
		if roundTrip.Kind == KindTimeout || roundTrip.Kind == KindNetwork {
			return StateHostUnreachable
		}
		return StateBridgeUnauthorized
	}
	return StateReady
}

// AutoFix runs the checks and, while the state is fixable, applies fixes
// and checks again, at most MaxFixAttempts times. Terminal states are
// reported as found.
func (o *Orchestrator) AutoFix(ctx context.Context) *Report {
	logger := o.config.Logger
	report := o.Run(ctx)

	var fixes []ProbeResult
	for attempt := 1; attempt <= o.config.MaxFixAttempts && report.State.Fixable(); attempt++ {
		logger.WithField("state", string(report.State)).WithField("attempt", attempt).Info("attempting fix")

		if report.State.NeedsInstaller() {
			fixes = append(fixes, o.applyFixes(ctx, report.State)...)
		}

		report = o.Run(ctx)
		report.Attempts = attempt
	}
	report.Fixes = fixes
	report.finish()
	return report
}

// applyFixes tries each fixer in order until one succeeds
func (o *Orchestrator) applyFixes(ctx context.Context, state State) []ProbeResult {
	var results []ProbeResult
	for _, fixer := range o.fixers {
		result, err := fixer.Fix(ctx, state)
		if result.Name != "" {
			results = append(results, result)
		}
		if err == nil && result.OK {
			break
		}
		if err != nil {
			o.config.Logger.WithError(err).Warn("fix failed")
		}
	}
	return results
}

func (o *Orchestrator) probeHost(ctx context.Context) ProbeResult {
	result := ProbeResult{Name: ProbeHost}
	if o.config.PlatformURL == "" {
		result.Kind = KindInvalid
		result.Signature = errcode.SigMisconfigured
		result.Detail = "platform URL is not configured"
		return result
	}

	resp, _, latency, err := o.call(ctx, http.MethodGet, o.config.PlatformURL+"/rest/v1/", nil, nil)
	result.LatencyMS = latency.Milliseconds()
	defer o.observe(&result)
	if err != nil && resp == nil {
		result = failure(result, err)
		return result
	}
	// any answer proves the host is up
	result.OK = true
	result.Kind = KindOK
	result.Status = resp.StatusCode
	return result
}

func (o *Orchestrator) probeEdge(ctx context.Context) ProbeResult {
	result := ProbeResult{Name: ProbeEdge}
	resp, _, latency, err := o.call(ctx, http.MethodOptions, o.config.FunctionsURL+"/federate", nil, nil)
	result.LatencyMS = latency.Milliseconds()
	defer o.observe(&result)
	if err != nil && resp == nil {
		result = failure(result, err)
		return result
	}

	result.Status = resp.StatusCode
	if resp.StatusCode == http.StatusNotFound {
		result.Kind = KindHTTPStatus
		result.Signature = errcode.SigNotDeployed
		result.Detail = "federation endpoint returned 404"
		return result
	}
	result.OK = true
	result.Kind = KindOK
	return result
}

func (o *Orchestrator) probeStatus(ctx context.Context) (ProbeResult, *bridgeResponse) {
	return o.bridgeCall(ctx, ProbeStatus, "status")
}

func (o *Orchestrator) probeFederate(ctx context.Context) (ProbeResult, string) {
	result, body := o.bridgeCall(ctx, ProbeFederate, "federate")
	if !result.OK {
		return result, ""
	}
	if body.Session == nil || body.Session.AccessToken == "" {
		result.OK = false
		result.Kind = KindInvalid
		result.Detail = "federation succeeded without a session"
		return result, ""
	}
	return result, body.Session.AccessToken
}

func (o *Orchestrator) probeRoundTrip(ctx context.Context, token string) ProbeResult {
	result := ProbeResult{Name: ProbeRoundTrip}
	url := fmt.Sprintf("%s/rest/v1/%s?select=id&limit=1", o.config.PlatformURL, ProbeTable)
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	resp, data, latency, err := o.call(ctx, http.MethodGet, url, nil, header)
	result.LatencyMS = latency.Milliseconds()
	defer o.observe(&result)
	if err != nil && resp == nil {
		result = failure(result, err)
		return result
	}

	result.Status = resp.StatusCode
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		result.Kind = KindUnauthorized
		result.Signature = errcode.SigUnauthorized
		result.Detail = fmt.Sprintf("platform rejected the minted token: %s", truncate(string(data), 200))
	case resp.StatusCode >= 300:
		result.Kind = KindHTTPStatus
		result.Signature = errcode.ClassifyMessage(string(data))
		result.Detail = fmt.Sprintf("platform returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	default:
		result.OK = true
		result.Kind = KindOK
	}
	return result
}

// bootstrapFix calls the bootstrap endpoint
func (o *Orchestrator) bootstrapFix(ctx context.Context, state State) (ProbeResult, error) {
	result, body := o.bridgeCall(ctx, ProbeBootstrap, "bootstrap")
	if !result.OK {
		return result, fmt.Errorf("bootstrap: %s", result.Detail)
	}
	if body.Bootstrapped {
		result.Detail = "schema installed"
	} else {
		result.Detail = "already initialized"
	}
	return result, nil
}

func (o *Orchestrator) bridgeCall(ctx context.Context, name, endpoint string) (ProbeResult, *bridgeResponse) {
	result := ProbeResult{Name: name}
	if o.config.TestToken == "" {
		result.Kind = KindSkipped
		result.Signature = errcode.SigMisconfigured
		result.Detail = "no identity provider token configured (RLSBRIDGE_TEST_TOKEN)"
		o.observe(&result)
		return result, nil
	}

	payload := map[string]string{"externalToken": o.config.TestToken}
	resp, data, latency, err := o.call(ctx, http.MethodPost, o.config.FunctionsURL+"/"+endpoint, payload, nil)
	result.LatencyMS = latency.Milliseconds()
	defer o.observe(&result)
	if err != nil && resp == nil {
		result = failure(result, err)
		return result, nil
	}

	result, body := decodeBridge(result, resp, data)
	return result, body
}

func (o *Orchestrator) observe(result *ProbeResult) {
	if o.config.Metrics != nil {
		o.config.Metrics.ProbeDuration.WithLabelValues(result.Name, string(result.Kind)).
			Observe(float64(result.LatencyMS) / 1000)
	}
}

// FetchStatus queries the status endpoint once
func (o *Orchestrator) FetchStatus(ctx context.Context) (*schema.ReadinessReport, ProbeResult) {
	result, body := o.probeStatus(ctx)
	if body == nil {
		return nil, result
	}
	return body.Status, result
}
