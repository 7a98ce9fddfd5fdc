// Package schema installs and inspects the row level security schema that
// minted tokens run against.
//
// The catalog is an ordered list of objects: roles, the auth.uid() fallback,
// the updated_at trigger function, then per table the table itself, its
// indexes, trigger, grants, RLS flag and four owner-scoped policies.
//
// Installation can run in process (Direct) or through the privileged
// rlsbridge_install() and rlsbridge_status() procedures (RPC), which the
// embedded migrations create. Both are idempotent and safe to repeat.
package schema
