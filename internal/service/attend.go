package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/lock"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/metrics"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/model"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/repository"
)

// AttendStatus distinguishes a new admission from a repeated one.
type AttendStatus string

const (
	AttendCreated         AttendStatus = "created"
	AttendAlreadyAttended AttendStatus = "already_attended"
)

// AttendResult identifies the attendance row of the caller.
type AttendResult struct {
	Status       AttendStatus
	AttendanceID string
}

// AttendLecture admits attendeeID to the lecture identified by secretCode.
//
// Admission is serialized per lecture by the distributed lock. A seat is
// reserved in the ledger before the attendance row is written and returned
// to the ledger if anything after the reservation fails.
func (s *LectureService) AttendLecture(ctx context.Context, tx database.Tx, attendeeID, secretCode string) (res *AttendResult, err error) {
	defer func() { metrics.AttendOutcomes.WithLabelValues(attendOutcome(res, err)).Inc() }()

	lecture, err := s.lectures.FindBySecretCode(ctx, tx, secretCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find lecture: %w", err)
	}

	existing, err := s.attendances.Find(ctx, tx, lecture.ID, attendeeID)
	switch {
	case err == nil:
		return &AttendResult{Status: AttendAlreadyAttended, AttendanceID: existing.ID}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find attendance: %w", err)
	}

	resource := resourceName(lecture.ID)
	lease, ok, err := s.locker.Acquire(ctx, resource, s.lockOpts)
	if err != nil {
		return nil, fmt.Errorf("acquire lecture lock: %w", err)
	}
	if !ok {
		return nil, ErrUnavailable
	}
	defer s.release(ctx, lease)

	return s.admit(ctx, tx, lecture, attendeeID, resource)
}

// admit runs with the lecture lock held.
func (s *LectureService) admit(ctx context.Context, tx database.Tx, lecture *model.Lecture, attendeeID, resource string) (*AttendResult, error) {
	remaining, err := s.ledger.Decrement(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("reserve seat: %w", err)
	}

	returnSeat := func(ctx context.Context) error {
		_, err := s.ledger.Increment(ctx, resource)
		return err
	}
	if remaining < 0 {
		return nil, s.compensate(ctx, ErrCapacityExceeded, "return_seat", resource, returnSeat)
	}

	attendance := &model.Attendance{
		ID:         uuid.NewString(),
		LectureID:  lecture.ID,
		AttendeeID: attendeeID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.attendances.Create(ctx, tx, attendance); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			err = ErrAlreadyAttended
		} else {
			err = fmt.Errorf("create attendance: %w", err)
		}
		return nil, s.compensate(ctx, err, "return_seat", resource, returnSeat)
	}
	// After a failed commit the row locks are gone and a close may already have
	// dropped the counter; a seat is only returned to a live counter.
	tx.OnRollback(func(ctx context.Context) {
		_ = s.compensate(ctx, nil, "return_seat", resource, func(ctx context.Context) error {
			_, _, err := s.ledger.Restore(ctx, resource)
			return err
		})
	})

	s.log.Debug("attendee admitted",
		"lecture_id", lecture.ID, "attendee_id", attendeeID, "remaining", remaining)
	return &AttendResult{Status: AttendCreated, AttendanceID: attendance.ID}, nil
}

func (s *LectureService) release(ctx context.Context, lease lock.Lease) {
	released, err := s.locker.Release(context.WithoutCancel(ctx), lease.Resource, lease.Token)
	if err != nil {
		s.log.Error("release lecture lock", "resource", lease.Resource, "error", err)
		return
	}
	if !released {
		s.log.Warn("lecture lock expired before release", "resource", lease.Resource)
	}
}

func attendOutcome(res *AttendResult, err error) string {
	switch {
	case err == nil:
		return string(res.Status)
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAlreadyAttended):
		return string(AttendAlreadyAttended)
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
