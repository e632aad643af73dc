// Package repository implements all database queries for lecture admission.
// It uses pgx directly (no ORM). Every method takes the database handle to run
// on, so callers decide which transaction a statement belongs to.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness rule: a second
// open lecture for one owner, or a second attendance of one attendee.
var ErrDuplicate = errors.New("duplicate row")

// ErrSecretCodeTaken is returned when a generated secret code collides with
// an existing lecture. The caller should retry with a new code.
var ErrSecretCodeTaken = errors.New("secret code already in use")

const uniqueViolation = "23505"

const lectureColumns = `id, owner_id, secret_code, capacity, status, created_at`

// LectureRepository handles persistence for lectures.
type LectureRepository struct{}

// NewLectureRepository constructs a LectureRepository.
func NewLectureRepository() *LectureRepository {
	return &LectureRepository{}
}

// Create inserts a new lecture.
//
// A secret code collision is reported as ErrSecretCodeTaken without aborting
// the surrounding transaction (ON CONFLICT DO NOTHING). A second open lecture
// for the same owner violates lectures_open_owner_key and is ErrDuplicate.
func (r *LectureRepository) Create(ctx context.Context, db database.Querier, l *model.Lecture) error {
	tag, err := db.Exec(ctx,
		`INSERT INTO lectures (id, owner_id, secret_code, capacity, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (secret_code) DO NOTHING`,
		l.ID, l.OwnerID, l.SecretCode, l.Capacity, string(l.Status), l.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert lecture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSecretCodeTaken
	}
	return nil
}

// GetByID returns a single lecture or ErrNotFound.
func (r *LectureRepository) GetByID(ctx context.Context, db database.Querier, id string) (*model.Lecture, error) {
	return scanLecture(db.QueryRow(ctx,
		`SELECT `+lectureColumns+` FROM lectures WHERE id = $1`,
		id,
	))
}

// FindOpenByOwner returns the open lecture of ownerID or ErrNotFound.
func (r *LectureRepository) FindOpenByOwner(ctx context.Context, db database.Querier, ownerID string) (*model.Lecture, error) {
	return scanLecture(db.QueryRow(ctx,
		`SELECT `+lectureColumns+` FROM lectures WHERE owner_id = $1 AND status = $2`,
		ownerID, string(model.LectureOpen),
	))
}

// FindByIDAndOwner returns the lecture with id owned by ownerID, locking the
// row until the transaction ends.
func (r *LectureRepository) FindByIDAndOwner(ctx context.Context, db database.Querier, id, ownerID string) (*model.Lecture, error) {
	return scanLecture(db.QueryRow(ctx,
		`SELECT `+lectureColumns+` FROM lectures WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
		id, ownerID,
	))
}

// FindBySecretCode returns the lecture with code. The row is share-locked so
// that the lecture cannot be deleted while an attendance is being admitted.
func (r *LectureRepository) FindBySecretCode(ctx context.Context, db database.Querier, code string) (*model.Lecture, error) {
	return scanLecture(db.QueryRow(ctx,
		`SELECT `+lectureColumns+` FROM lectures WHERE secret_code = $1 FOR SHARE`,
		code,
	))
}

// Delete removes a lecture; its attendances cascade.
func (r *LectureRepository) Delete(ctx context.Context, db database.Querier, id string) error {
	tag, err := db.Exec(ctx, `DELETE FROM lectures WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lecture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLecture(row pgx.Row) (*model.Lecture, error) {
	var (
		l      model.Lecture
		status string
	)
	err := row.Scan(&l.ID, &l.OwnerID, &l.SecretCode, &l.Capacity, &status, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lecture: %w", err)
	}
	l.Status = model.LectureStatus(status)
	return &l, nil
}

// AttendanceRepository handles persistence for attendances.
type AttendanceRepository struct{}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository() *AttendanceRepository {
	return &AttendanceRepository{}
}

// Create inserts an attendance. A second row for the same (lecture, attendee)
// pair is ErrDuplicate.
func (r *AttendanceRepository) Create(ctx context.Context, db database.Querier, a *model.Attendance) error {
	_, err := db.Exec(ctx,
		`INSERT INTO attendances (id, lecture_id, attendee_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		a.ID, a.LectureID, a.AttendeeID, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

// Find returns the attendance of attendeeID in lectureID or ErrNotFound.
func (r *AttendanceRepository) Find(ctx context.Context, db database.Querier, lectureID, attendeeID string) (*model.Attendance, error) {
	var a model.Attendance
	err := db.QueryRow(ctx,
		`SELECT id, lecture_id, attendee_id, created_at
		 FROM attendances
		 WHERE lecture_id = $1 AND attendee_id = $2`,
		lectureID, attendeeID,
	).Scan(&a.ID, &a.LectureID, &a.AttendeeID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return &a, nil
}

// CountByLecture returns the number of attendances of a lecture.
func (r *AttendanceRepository) CountByLecture(ctx context.Context, db database.Querier, lectureID string) (int, error) {
	var n int
	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM attendances WHERE lecture_id = $1`,
		lectureID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attendances: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
