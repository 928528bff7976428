package attendance

import (
	"errors"
	"fmt"

	"gymattendance/internal/membership"
)

var (
	// ErrMemberNotFound aliases the membership sentinel so callers need one import.
	ErrMemberNotFound = membership.ErrMemberNotFound

	ErrDuplicateOpenSession = errors.New("member already has an open session today")
	ErrNoOpenSession        = errors.New("no open entry to close")
	ErrAlreadyClosed        = errors.New("session already closed")
	ErrSessionNotClosed     = errors.New("session is not closed")
	ErrSessionNotFound      = errors.New("session not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrInvalidDirection     = errors.New("direction must be ENTRY or EXIT")
)

// StorageError wraps an infrastructure failure. It matches ErrStorageUnavailable
// and is safe to retry because every ledger mutation is a single statement.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorageUnavailable) true.
func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// AccessDeniedError blocks an automatic entry for an expired membership.
type AccessDeniedError struct {
	Name        string
	DaysOverdue int
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("Access denied, %s. Your membership expired %d day(s) ago.", e.Name, e.DaysOverdue)
}

// ConflictError rejects a manual entry while an entry is already open.
type ConflictError struct {
	Name      string
	SessionID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already has an open entry today. Use EXIT to register the exit.", e.Name)
}

func (e *ConflictError) Unwrap() error { return ErrDuplicateOpenSession }

// NoOpenEntryError rejects a manual exit when nothing is open.
type NoOpenEntryError struct {
	Name string
}

func (e *NoOpenEntryError) Error() string {
	return fmt.Sprintf("No open entry today for %s.", e.Name)
}

func (e *NoOpenEntryError) Unwrap() error { return ErrNoOpenSession }

// IsDomain reports whether err is an expected business outcome rather than a fault.
func IsDomain(err error) bool {
	var denied *AccessDeniedError
	switch {
	case errors.As(err, &denied),
		errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrDuplicateOpenSession),
		errors.Is(err, ErrNoOpenSession),
		errors.Is(err, ErrAlreadyClosed),
		errors.Is(err, ErrSessionNotClosed),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrInvalidDirection):
		return true
	}
	return false
}
