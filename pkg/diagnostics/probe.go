package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
)

// Kind classifies a probe result
type Kind string

const (
	KindOK           Kind = "ok"
	KindTimeout      Kind = "timeout"
	KindNetwork      Kind = "network"
	KindHTTPStatus   Kind = "http_status"
	KindRPCMissing   Kind = "rpc_missing"
	KindUnauthorized Kind = "unauthorized"
	KindInvalid      Kind = "invalid"
	KindSkipped      Kind = "skipped"
)

// Probe names
const (
	ProbeHost      = "host"
	ProbeEdge      = "edge"
	ProbeStatus    = "status"
	ProbeFederate  = "federate"
	ProbeRoundTrip = "round_trip"
	ProbeBootstrap = "bootstrap"
)

// ProbeResult is the outcome of one bounded network check
type ProbeResult struct {
	Name      string            `json:"name" yaml:"name"`
	OK        bool              `json:"ok" yaml:"ok"`
	Kind      Kind              `json:"kind" yaml:"kind"`
	Status    int               `json:"status,omitempty" yaml:"status,omitempty"`
	LatencyMS int64             `json:"latency_ms" yaml:"latency_ms"`
	Detail    string            `json:"detail,omitempty" yaml:"detail,omitempty"`
	Signature errcode.Signature `json:"signature,omitempty" yaml:"signature,omitempty"`
}

// bridgeResponse decodes the envelope returned by the bridge endpoints
type bridgeResponse struct {
	Success bool         `json:"success"`
	Code    errcode.Code `json:"code"`
	Error   string       `json:"error"`
	Session *struct {
		AccessToken string `json:"access_token"`
	} `json:"session"`
	Bootstrapped       bool                    `json:"bootstrapped"`
	AlreadyInitialized bool                    `json:"already_initialized"`
	Status             *schema.ReadinessReport `json:"status"`
}

// maxResponseBytes bounds how much of a probe response is read
const maxResponseBytes = 1 << 20

// call performs one request under timeout. A non-nil error means no HTTP
// response was received.
func (o *Orchestrator) call(ctx context.Context, method, url string, body interface{}, header http.Header) (*http.Response, []byte, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.ProbeTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.config.APIKey != "" {
		req.Header.Set("apikey", o.config.APIKey)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, nil, time.Since(start), err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	latency := time.Since(start)
	if err != nil {
		return resp, nil, latency, err
	}
	return resp, data, latency, nil
}

// failure fills a result for a request that got no HTTP response
func failure(result ProbeResult, err error) ProbeResult {
	result.OK = false
	result.Signature = errcode.Classify(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded), result.Signature == errcode.SigTimeout:
		result.Kind = KindTimeout
		result.Signature = errcode.SigTimeout
		result.Detail = "no answer within the probe timeout"
	default:
		result.Kind = KindNetwork
		result.Detail = err.Error()
	}
	return result
}

// decodeBridge parses a bridge envelope, classifying failures
func decodeBridge(result ProbeResult, resp *http.Response, data []byte) (ProbeResult, *bridgeResponse) {
	result.Status = resp.StatusCode

	if resp.StatusCode == http.StatusNotFound {
		result.Kind = KindHTTPStatus
		result.Signature = errcode.SigNotDeployed
		result.Detail = "endpoint returned 404"
		return result, nil
	}

	var body bridgeResponse
	if err := json.Unmarshal(data, &body); err != nil {
		result.Kind = KindInvalid
		result.Signature = errcode.ClassifyMessage(string(data))
		result.Detail = fmt.Sprintf("unexpected %d response: %s", resp.StatusCode, truncate(string(data), 200))
		return result, nil
	}

	if !body.Success {
		result.Detail = fmt.Sprintf("%s: %s", body.Code, body.Error)
		switch {
		case body.Code == errcode.BootstrapRPCMissing:
			result.Kind = KindRPCMissing
			result.Signature = errcode.SigRPCMissing
		case body.Code.IsVerification():
			result.Kind = KindUnauthorized
			result.Signature = errcode.SigUnauthorized
		case body.Code == errcode.EnvMissing:
			result.Kind = KindInvalid
			result.Signature = errcode.SigMisconfigured
		default:
			result.Kind = KindHTTPStatus
			result.Signature = errcode.ClassifyMessage(body.Error)
		}
		return result, &body
	}

	result.OK = true
	result.Kind = KindOK
	return result, &body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
