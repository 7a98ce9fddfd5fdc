// Package diagnostics checks a live deployment layer by layer and can drive
// the installer to repair what it finds.
//
// A run checks, in order: the platform host, the federation endpoint, the
// status endpoint, and a live round trip that federates a test token and
// reads the profiles table with the minted token. The first failing layer
// decides the State and later layers are skipped. The status endpoint is
// queried concurrently on every run so the report includes a readiness
// snapshot even when an earlier layer fails.
//
// Every probe is bounded by Config.ProbeTimeout, 3 seconds by default.
//
//	o := diagnostics.New(diagnostics.Config{PlatformURL: url, TestToken: token})
//	report := o.AutoFix(ctx)
//	report.Render(os.Stdout, diagnostics.FormatText)
//
// AutoFix only acts on rpc_missing, schema_incomplete and
// bridge_unauthorized. Unreachable hosts and undeployed endpoints need an
// operator and are reported with instructions.
package diagnostics
