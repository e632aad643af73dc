// Package service implements lecture admission: opening and closing lectures
// and admitting attendees without ever exceeding a lecture's capacity.
//
// Admission spans two stores. Seat counts and the per-lecture lock live in
// Redis; lectures and attendances live in PostgreSQL inside a transaction the
// caller owns. Redis mutations cannot roll back with that transaction, so each
// one is paired with an inverse mutation: it runs immediately when a later
// step of the same operation fails, and is registered with Tx.OnRollback once
// the operation succeeds.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/credential"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/ledger"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/lock"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/metrics"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/model"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/repository"
)

const (
	maxCapacity        = 100_000
	secretCodeAttempts = 5
)

// LectureStore persists lectures.
type LectureStore interface {
	Create(ctx context.Context, db database.Querier, l *model.Lecture) error
	GetByID(ctx context.Context, db database.Querier, id string) (*model.Lecture, error)
	FindOpenByOwner(ctx context.Context, db database.Querier, ownerID string) (*model.Lecture, error)
	FindByIDAndOwner(ctx context.Context, db database.Querier, id, ownerID string) (*model.Lecture, error)
	FindBySecretCode(ctx context.Context, db database.Querier, code string) (*model.Lecture, error)
	Delete(ctx context.Context, db database.Querier, id string) error
}

// AttendanceStore persists attendances.
type AttendanceStore interface {
	Create(ctx context.Context, db database.Querier, a *model.Attendance) error
	Find(ctx context.Context, db database.Querier, lectureID, attendeeID string) (*model.Attendance, error)
	CountByLecture(ctx context.Context, db database.Querier, lectureID string) (int, error)
}

// Locker serializes admissions of one lecture across processes.
type Locker interface {
	Acquire(ctx context.Context, resource string, opts lock.Options) (lock.Lease, bool, error)
	Release(ctx context.Context, resource, token string) (bool, error)
}

// Ledger tracks remaining seats.
type Ledger interface {
	Initialize(ctx context.Context, resource string, capacity int) error
	Decrement(ctx context.Context, resource string) (int64, error)
	Increment(ctx context.Context, resource string) (int64, error)
	Restore(ctx context.Context, resource string) (int64, bool, error)
	Remove(ctx context.Context, resource string) error
	Remaining(ctx context.Context, resource string) (int64, error)
}

// Config carries the non-store settings of a LectureService.
type Config struct {
	// Secret signs identity and room credentials.
	Secret []byte
	// Lock bounds how long an attendee waits for the lecture lock.
	Lock   lock.Options
	Logger *slog.Logger
}

// LectureService orchestrates lecture lifecycle and attendance.
type LectureService struct {
	lectures    LectureStore
	attendances AttendanceStore
	locker      Locker
	ledger      Ledger
	secret      []byte
	lockOpts    lock.Options
	log         *slog.Logger

	now        func() time.Time
	secretCode func() (string, error)
}

// NewLectureService constructs a LectureService with its dependencies.
func NewLectureService(
	lectures LectureStore,
	attendances AttendanceStore,
	locker Locker,
	ledger Ledger,
	cfg Config,
) *LectureService {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &LectureService{
		lectures:    lectures,
		attendances: attendances,
		locker:      locker,
		ledger:      ledger,
		secret:      cfg.Secret,
		lockOpts:    cfg.Lock,
		log:         log,
		now:         time.Now,
		secretCode:  newSecretCode,
	}
}

// CreateLectureResult is returned to the owner of a new lecture.
type CreateLectureResult struct {
	Lecture    *model.Lecture
	SecretCode string
	// RoomID is the signed room credential for the lecture.
	RoomID string
}

// CreateLecture opens a lecture for ownerID with room for capacity attendees.
func (s *LectureService) CreateLecture(ctx context.Context, tx database.Tx, ownerID, role string, capacity int) (*CreateLectureResult, error) {
	if role != model.RoleTeacher {
		return nil, ErrUnauthorized
	}
	if capacity <= 0 || capacity > maxCapacity {
		return nil, fmt.Errorf("%w: capacity must be between 1 and %d", ErrInvalidInput, maxCapacity)
	}

	_, err := s.lectures.FindOpenByOwner(ctx, tx, ownerID)
	switch {
	case err == nil:
		return nil, ErrConflict
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("check open lecture: %w", err)
	}

	lecture, err := s.insertLecture(ctx, tx, ownerID, capacity)
	if err != nil {
		return nil, err
	}

	roomID, err := credential.EncodeRoom(s.secret, credential.Room{
		LectureID:  lecture.ID,
		Capacity:   lecture.Capacity,
		SecretCode: lecture.SecretCode,
	})
	if err != nil {
		return nil, fmt.Errorf("encode room credential: %w", err)
	}

	resource := resourceName(lecture.ID)
	removeEntry := func(ctx context.Context) error { return s.ledger.Remove(ctx, resource) }
	if err := s.ledger.Initialize(ctx, resource, capacity); err != nil {
		return nil, s.compensate(ctx, fmt.Errorf("initialize capacity: %w", err), "remove_ledger", resource, removeEntry)
	}
	tx.OnRollback(func(ctx context.Context) {
		_ = s.compensate(ctx, nil, "remove_ledger", resource, removeEntry)
	})

	metrics.LectureOperations.WithLabelValues("open", "success").Inc()
	s.log.Info("lecture opened", "lecture_id", lecture.ID, "owner_id", ownerID, "capacity", capacity)
	return &CreateLectureResult{Lecture: lecture, SecretCode: lecture.SecretCode, RoomID: roomID}, nil
}

// insertLecture persists a new lecture, drawing a fresh secret code when the
// previous one is already taken.
func (s *LectureService) insertLecture(ctx context.Context, tx database.Tx, ownerID string, capacity int) (*model.Lecture, error) {
	for attempt := 0; attempt < secretCodeAttempts; attempt++ {
		code, err := s.secretCode()
		if err != nil {
			return nil, fmt.Errorf("generate secret code: %w", err)
		}
		lecture := &model.Lecture{
			ID:         uuid.NewString(),
			OwnerID:    ownerID,
			SecretCode: code,
			Capacity:   capacity,
			Status:     model.LectureOpen,
			CreatedAt:  s.now().UTC(),
		}
		err = s.lectures.Create(ctx, tx, lecture)
		switch {
		case err == nil:
			return lecture, nil
		case errors.Is(err, repository.ErrSecretCodeTaken):
			continue
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrConflict
		default:
			return nil, fmt.Errorf("create lecture: %w", err)
		}
	}
	return nil, fmt.Errorf("create lecture: no free secret code after %d attempts", secretCodeAttempts)
}

// DeleteLecture closes lectureID. Its attendances are removed with it and its
// capacity entry is dropped from the ledger.
func (s *LectureService) DeleteLecture(ctx context.Context, tx database.Tx, ownerID, role, lectureID string) error {
	if role != model.RoleTeacher {
		return ErrUnauthorized
	}

	lecture, err := s.lectures.FindByIDAndOwner(ctx, tx, lectureID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("find lecture: %w", err)
	}

	resource := resourceName(lecture.ID)
	remaining, err := s.ledger.Remaining(ctx, resource)
	hadEntry := err == nil
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("read capacity: %w", err)
	}
	if err := s.ledger.Remove(ctx, resource); err != nil {
		return fmt.Errorf("remove capacity: %w", err)
	}

	restoreEntry := func(ctx context.Context) error {
		if !hadEntry {
			return nil
		}
		return s.ledger.Initialize(ctx, resource, int(remaining))
	}
	if err := s.lectures.Delete(ctx, tx, lecture.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = ErrNotFound
		} else {
			err = fmt.Errorf("delete lecture: %w", err)
		}
		return s.compensate(ctx, err, "restore_ledger", resource, restoreEntry)
	}
	tx.OnRollback(func(ctx context.Context) {
		_ = s.compensate(ctx, nil, "restore_ledger", resource, restoreEntry)
	})

	metrics.LectureOperations.WithLabelValues("close", "success").Inc()
	s.log.Info("lecture closed", "lecture_id", lecture.ID, "owner_id", ownerID)
	return nil
}

// LectureInfo returns a lecture together with its remaining seats and the
// number of admitted attendees.
func (s *LectureService) LectureInfo(ctx context.Context, db database.Querier, lectureID string) (*model.LectureInfo, error) {
	lecture, err := s.lectures.GetByID(ctx, db, lectureID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lecture: %w", err)
	}

	attendees, err := s.attendances.CountByLecture(ctx, db, lecture.ID)
	if err != nil {
		return nil, err
	}

	resource := resourceName(lecture.ID)
	remaining, err := s.ledger.Remaining(ctx, resource)
	if errors.Is(err, ledger.ErrNotFound) {
		s.log.Warn("capacity entry missing", "lecture_id", lecture.ID)
		remaining = int64(lecture.Capacity - attendees)
	} else if err != nil {
		return nil, fmt.Errorf("read capacity: %w", err)
	}

	return &model.LectureInfo{Lecture: *lecture, Remaining: remaining, Attendees: attendees}, nil
}

// compensate runs an inverse cache mutation on a context that outlives the
// request. It returns cause, joined with ErrCompensationFailed when the
// inverse mutation itself fails.
func (s *LectureService) compensate(ctx context.Context, cause error, action, resource string, fn func(context.Context) error) error {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		metrics.CompensationFailures.WithLabelValues(action).Inc()
		s.log.Error("compensation failed, ledger diverged from database",
			"action", action, "resource", resource, "error", err, "cause", cause)
		return errors.Join(cause, fmt.Errorf("%w: %s %s: %w", ErrCompensationFailed, action, resource, err))
	}
	return cause
}

// resourceName is the lock and ledger name of a lecture.
func resourceName(lectureID string) string {
	return "lecture:" + lectureID
}
