package diagnostics

// State is the outcome of a diagnostic run
type State string

const (
	StateHostUnreachable    State = "host_unreachable"
	StateEdgeNotDeployed    State = "edge_not_deployed"
	StateRPCMissing         State = "rpc_missing"
	StateSchemaIncomplete   State = "schema_incomplete"
	StateBridgeUnauthorized State = "bridge_unauthorized"
	StateReady              State = "ready"
)

// Fixable reports whether AutoFix may act on the state
func (s State) Fixable() bool {
	switch s {
	case StateRPCMissing, StateSchemaIncomplete, StateBridgeUnauthorized:
		return true
	}
	return false
}

// Terminal reports whether the state needs no further automatic action.
// Unreachable and undeployed hosts need an operator.
func (s State) Terminal() bool {
	return !s.Fixable()
}

// NeedsInstaller reports whether fixing the state means running the installer
func (s State) NeedsInstaller() bool {
	return s == StateRPCMissing || s == StateSchemaIncomplete
}

// Instructions returns what an operator should do about the state
func (s State) Instructions() string {
	switch s {
	case StateHostUnreachable:
		return "The platform host did not answer. Check RLSBRIDGE_PLATFORM_URL, DNS and network access, then re-run validate."
	case StateEdgeNotDeployed:
		return "The federation endpoints are not deployed at RLSBRIDGE_FUNCTIONS_URL. Deploy rlsbridge (rlsbridge serve) behind that URL, then re-run validate."
	case StateRPCMissing:
		return "The install and status procedures are missing. Run `rlsbridge setup`, or `rlsbridge validate --fix` with RLSBRIDGE_DATABASE_URL set."
	case StateSchemaIncomplete:
		return "Some tables, triggers, indexes or policies are missing. Run `rlsbridge validate --fix` to install them."
	case StateBridgeUnauthorized:
		return "Federation did not produce a token the platform accepts. Check RLSBRIDGE_TEST_TOKEN and that RLSBRIDGE_JWT_SECRET matches the platform's JWT secret."
	case StateReady:
		return "Everything is in place."
	}
	return ""
}
