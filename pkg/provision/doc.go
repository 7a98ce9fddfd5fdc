// Package provision creates platform user records lazily, the first time an
// external subject federates.
//
// Users are keyed by the internal id derived from the external subject, so a
// lookup never needs a mapping table. When the identity provider supplies a
// well-formed email it is used; otherwise a non-routable placeholder address
// embedding the subject is stored.
package provision
