// Package federation turns a verified identity provider token into a
// platform session.
//
// The sequence is fixed: verify, map the subject to an internal id, reuse a
// cached token if one is fresh enough, otherwise provision the user and mint
// a new token. Nothing is retried here; callers decide whether to try again.
package federation
