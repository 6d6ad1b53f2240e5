// Package ident provides the 128-bit opaque identifiers used to name every
// terminal, client, server peer, proxy and task in the multiplexer.
package ident

import (
	"github.com/google/uuid"
)

// ID is a 128-bit opaque identifier with a canonical 16-byte form (Bytes)
// and a textual form (String). Two IDs compare equal iff their byte forms
// are identical.
type ID struct {
	u uuid.UUID
}

// Nil is the zero-value ID, used to mean "no id" (e.g. no current owner).
var Nil = ID{}

// New generates a fresh random ID. Collision with any other live ID is
// overwhelmingly unlikely (122 bits of randomness, RFC 4122 v4).
func New() ID {
	return ID{u: uuid.New()}
}

// FromBytes parses the canonical 16-byte form produced by Bytes.
func FromBytes(b []byte) (ID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return ID{}, err
	}
	return ID{u: u}, nil
}

// Parse parses the textual form produced by String.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID{u: u}, nil
}

// Bytes returns the canonical 16-byte form.
func (id ID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, id.u[:])
	return b
}

// Bytes16 returns the canonical form as a fixed-size array, convenient
// for embedding directly in wire-frame prefix/header structs.
func (id ID) Bytes16() [16]byte {
	return [16]byte(id.u)
}

// String returns the textual form.
func (id ID) String() string {
	return id.u.String()
}

// Equal reports whether two IDs name the same object.
func (id ID) Equal(other ID) bool {
	return id.u == other.u
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id.u == uuid.Nil
}

// Mix incorporates another ID's bytes into id, producing a fresh ID used to
// disambiguate a local machine id by an external discriminator such as a
// UID. The mix is a byte-wise XOR followed by re-stamping the UUID version
// and variant bits so the result remains a well-formed v4-shaped id; it is
// not cryptographically meaningful, only used to deterministically spread
// ids that would otherwise collide when multiple machine identities are
// disambiguated by the same local UID.
func (id ID) Mix(other ID) ID {
	var out uuid.UUID
	for i := range out {
		out[i] = id.u[i] ^ other.u[i]
	}
	out[6] = (out[6] & 0x0f) | 0x40
	out[8] = (out[8] & 0x3f) | 0x80
	return ID{u: out}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
