package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input synchronously, before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown ride or driver.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StateConflictError rejects an illegal ride-status transition. The stored
// state is left unchanged.
type StateConflictError struct {
	Entity string
	From   string
	To     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// TransientStoreError wraps a datastore timeout or connectivity failure that
// is worth retrying through the tiered lookup.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store failure during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// DuplicateKeyError reports a unique-constraint collision, e.g. two rides
// racing to the same ride number.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: %s", e.Key)
}

// IsNotFound reports whether err is a NotFoundError anywhere in its chain.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTransient reports whether err is a TransientStoreError anywhere in its chain.
func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}

// IsDuplicateKey reports whether err is a DuplicateKeyError anywhere in its chain.
func IsDuplicateKey(err error) bool {
	var de *DuplicateKeyError
	return errors.As(err, &de)
}
