package models

import "errors"

// Mutation outcomes are reported through this taxonomy so the HTTP
// layer can tell pre-submit validation problems apart from save
// failures. Match with errors.Is.
var (
	// ErrValidation: the record failed its collection gate. Nothing was
	// changed and nothing was written.
	ErrValidation = errors.New("validation failed")

	// ErrNotAuthorized: no active user/authorization (or the switch gate
	// rejected the credentials). Short-circuits before any I/O.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrPersistence: the gateway write failed or timed out. The
	// in-memory optimistic update is NOT reverted; callers must re-query
	// before reporting state to the user.
	ErrPersistence = errors.New("persistence failed")

	// ErrNotFound: update referenced a record id that does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrBusinessNotFound: the active business id has no entry in the
	// partition map. No partial write is attempted.
	ErrBusinessNotFound = errors.New("business not found")

	// ErrBusy: a load is in flight; mutations are rejected rather than
	// deferred so a reload cannot clobber an optimistic update.
	ErrBusy = errors.New("load in progress")
)
