// Package uuid generates RFC 4122 version 4 identifiers from crypto/rand.
package uuid

import (
	"crypto/rand"
	"fmt"
)

type UUID [16]byte

// NewV4 returns a random UUID.
func NewV4() (UUID, error) {
	var u UUID
	if _, err := rand.Read(u[:]); err != nil {
		return UUID{}, fmt.Errorf("failed to read random bytes: %w", err)
	}

	u[6] = (u[6] & 0x0f) | 0x40 // version 4
	u[8] = (u[8] & 0x3f) | 0x80 // variant RFC 4122

	return u, nil
}

// MustNewV4 panics if UUID generation fails. Random-source failure is not
// recoverable at call sites.
func MustNewV4() UUID {
	u, err := NewV4()
	if err != nil {
		panic(fmt.Errorf("failed to generate UUID: %w", err))
	}
	return u
}

// NewString returns a fresh UUID in the standard hexadecimal format.
func NewString() string {
	return MustNewV4().String()
}

// String formats as xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x",
		u[0:4], u[4:6], u[6:8], u[8:10], u[10:])
}
