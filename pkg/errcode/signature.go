package errcode

import (
	"context"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Signature is a recognized failure pattern with a known remediation
type Signature string

const (
	SigUnknown         Signature = "unknown"
	SigTimeout         Signature = "timeout"
	SigDNS             Signature = "dns"
	SigNetwork         Signature = "network"
	SigNotDeployed     Signature = "endpoint_not_deployed"
	SigRPCMissing      Signature = "rpc_missing"
	SigIssuerMalformed Signature = "issuer_malformed"
	SigKeyMismatch     Signature = "key_mismatch"
	SigUnauthorized    Signature = "unauthorized"
	SigMisconfigured   Signature = "misconfigured"
)

var remediations = map[Signature]string{
	SigUnknown:         "Inspect the server logs for the underlying error.",
	SigTimeout:         "The dependency did not answer in time. Check that it is running and reachable from this host.",
	SigDNS:             "The host name could not be resolved. Check the platform URL for typos and that the project exists.",
	SigNetwork:         "The host refused or dropped the connection. Check the platform URL, firewall rules and that the service is up.",
	SigNotDeployed:     "The endpoint returned 404. Deploy the federation functions (run `rlsbridge setup`) and check the functions URL.",
	SigRPCMissing:      "The bootstrap procedures are not installed. Run `rlsbridge setup` to apply the migrations.",
	SigIssuerMalformed: "The identity provider issuer is not a valid https URL. Set RLSBRIDGE_IDP_ISSUER to the issuer shown by your provider.",
	SigKeyMismatch:     "The token signature did not match the published keys. Check RLSBRIDGE_IDP_ISSUER / RLSBRIDGE_JWKS_URL point at the provider that issued the token.",
	SigUnauthorized:    "The data platform rejected the minted token. Check that RLSBRIDGE_JWT_SECRET equals the platform's JWT secret, then re-run federation.",
	SigMisconfigured:   "The server is missing required configuration. Check the environment of the federation service.",
}

// ErrIssuerMalformed marks an issuer that cannot be used to locate a key set
var ErrIssuerMalformed = errors.New("issuer URL is malformed")

// Remediation returns an operator-facing hint for the signature
func (s Signature) Remediation() string {
	if r, ok := remediations[s]; ok {
		return r
	}
	return remediations[SigUnknown]
}

var (
	rpcMissingPattern   = regexp.MustCompile(`(?i)(function .* does not exist|could not find the function|42883|bootstrap_rpc_missing)`)
	keyMismatchPattern  = regexp.MustCompile(`(?i)(signature|jwks|no keys|failed to verify|kid)`)
	notFoundPattern     = regexp.MustCompile(`(?i)(\b404\b|not found)`)
	unauthorizedPattern = regexp.MustCompile(`(?i)(\b401\b|\b403\b|jwt expired|invalid jwt|unauthorized|PGRST30)`)
)

// Classify maps an error to a known failure signature
func Classify(err error) Signature {
	if err == nil {
		return SigUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return SigTimeout
	}
	if errors.Is(err, ErrIssuerMalformed) {
		return SigIssuerMalformed
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return SigDNS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SigTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return SigNetwork
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case BootstrapRPCMissing:
			return SigRPCMissing
		case EnvMissing:
			return SigMisconfigured
		case JWTInvalid, JWTIssuerInvalid, JWTAudienceInvalid:
			if keyMismatchPattern.MatchString(err.Error()) {
				return SigKeyMismatch
			}
			return SigUnauthorized
		}
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage maps an error string to a known failure signature
func ClassifyMessage(msg string) Signature {
	switch {
	case rpcMissingPattern.MatchString(msg):
		return SigRPCMissing
	case strings.Contains(msg, ErrIssuerMalformed.Error()):
		return SigIssuerMalformed
	case strings.Contains(msg, "no such host"):
		return SigDNS
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return SigNetwork
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "Client.Timeout"):
		return SigTimeout
	case notFoundPattern.MatchString(msg):
		return SigNotDeployed
	case unauthorizedPattern.MatchString(msg):
		return SigUnauthorized
	case keyMismatchPattern.MatchString(msg):
		return SigKeyMismatch
	}
	return SigUnknown
}

// ValidateIssuerURL rejects issuers that are not absolute http(s) URLs
func ValidateIssuerURL(issuer string) error {
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return Wrap(EnvMissing, "identity provider issuer is not a valid URL", ErrIssuerMalformed)
	}
	return nil
}
