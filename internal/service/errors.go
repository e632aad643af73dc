package service

import "errors"

// Domain errors returned by LectureService. They propagate unchanged to the
// request boundary; anything else is reported there as an internal error.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("lecture not found")
	ErrConflict         = errors.New("an open lecture already exists for this owner")
	ErrCapacityExceeded = errors.New("lecture is full")
	ErrUnavailable      = errors.New("lecture is busy, try again")
	ErrInvalidInput     = errors.New("invalid input")
	// ErrAlreadyAttended is only returned when two requests of the same
	// attendee race past the lookup; the common case is an AttendResult.
	ErrAlreadyAttended = errors.New("already attending this lecture")
	// ErrCompensationFailed marks an error whose cache compensation also
	// failed, leaving the ledger out of step with the database.
	ErrCompensationFailed = errors.New("compensation failed")
)
