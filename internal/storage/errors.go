package storage

import "errors"

var (
	// ErrCredentialNotFound is returned when a credential is not found
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrOwnerNotFound is returned when an owner is not found
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrVersionConflict is returned when an optimistic write lost a race
	ErrVersionConflict = errors.New("credential was modified concurrently")

	// ErrDuplicateCredential is returned when an owner already holds a
	// credential for the same account
	ErrDuplicateCredential = errors.New("credential already exists for this account")
)
