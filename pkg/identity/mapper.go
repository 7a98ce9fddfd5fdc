package identity

import (
	"crypto/sha1"
	"errors"

	"github.com/google/uuid"
)

// Namespace is the fixed name-space identifier every external subject is
// hashed under. Changing it changes every mapped id, so it must never change.
var Namespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// ErrEmptyExternalID is returned when Map is called with an empty subject
var ErrEmptyExternalID = errors.New("identity: external id must not be empty")

// MappedIdentity pairs an identity-provider subject with its derived internal id
type MappedIdentity struct {
	ExternalSubject string    `json:"external_subject"`
	InternalID      uuid.UUID `json:"internal_id"`
}

// Map derives the stable internal user id for an external subject.
//
// The result is a name-based version 5 UUID: SHA-1 over the namespace bytes
// followed by the UTF-8 bytes of externalID, truncated to 16 bytes, with the
// version nibble set to 5 and the variant bits set to 10. The same input
// always yields the same id, in any process and any conforming implementation.
func Map(externalID string) (uuid.UUID, error) {
	if externalID == "" {
		return uuid.Nil, ErrEmptyExternalID
	}

	h := sha1.New()
	h.Write(Namespace[:])
	h.Write([]byte(externalID))
	sum := h.Sum(nil)

	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x50
	id[8] = (id[8] & 0x3f) | 0x80

	return id, nil
}

// MustMap is like Map but panics on empty input. Intended for constants and tests.
func MustMap(externalID string) uuid.UUID {
	id, err := Map(externalID)
	if err != nil {
		panic(err)
	}
	return id
}

// Resolve returns the full mapping for an external subject
func Resolve(externalID string) (MappedIdentity, error) {
	id, err := Map(externalID)
	if err != nil {
		return MappedIdentity{}, err
	}
	return MappedIdentity{ExternalSubject: externalID, InternalID: id}, nil
}
