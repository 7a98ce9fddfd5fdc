// Package identity derives stable internal user ids from identity-provider subjects.
//
// # Overview
//
// The mapping is a pure function: no lookup table is stored, and the id is
// recomputed on every request. Row-security policies compare the owner column
// against the subject of the minted token, which is always Map(externalSubject).
//
//	id, err := identity.Map("user_2abc")
//	// id.String() == "xxxxxxxx-xxxx-5xxx-yxxx-xxxxxxxxxxxx"
//
// # Email Extraction
//
// Identity providers disagree on where they put the primary address.
// ExtractEmail runs an ordered list of EmailRule values and returns the first
// well-formed result; PlaceholderEmail covers subjects without one.
//
//	email, ok := identity.ExtractEmail(claims)
//	if !ok {
//		email = identity.PlaceholderEmail(subject)
//	}
package identity
