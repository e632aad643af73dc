package testkit

import (
	"context"
	"sync"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/model"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/repository"
)

// Store holds lectures and attendances in memory.
//
// Writes are visible to other transactions immediately; only their undo is
// deferred to rollback. Uniqueness follows the schema: one secret code per
// lecture, one open lecture per owner, one attendance per (lecture, attendee),
// and attendances are deleted with their lecture.
type Store struct {
	mu          sync.Mutex
	lectures    map[string]model.Lecture
	attendances map[string]model.Attendance
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		lectures:    make(map[string]model.Lecture),
		attendances: make(map[string]model.Attendance),
	}
}

// Lectures returns the lecture view of s.
func (s *Store) Lectures() *Lectures { return &Lectures{s: s} }

// Attendances returns the attendance view of s.
func (s *Store) Attendances() *Attendances { return &Attendances{s: s} }

// LectureCount returns the number of stored lectures.
func (s *Store) LectureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lectures)
}

// AttendanceCount returns the number of attendances of lectureID.
func (s *Store) AttendanceCount(lectureID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(lectureID)
}

func (s *Store) countLocked(lectureID string) int {
	n := 0
	for _, a := range s.attendances {
		if a.LectureID == lectureID {
			n++
		}
	}
	return n
}

func onUndo(db database.Querier, fn func()) {
	if tx, ok := db.(*Tx); ok {
		tx.addUndo(fn)
	}
}

// Lectures implements the lecture store over a Store.
type Lectures struct{ s *Store }

func (l *Lectures) Create(_ context.Context, db database.Querier, lec *model.Lecture) error {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.lectures {
		if other.SecretCode == lec.SecretCode {
			return repository.ErrSecretCodeTaken
		}
	}
	for _, other := range s.lectures {
		if other.OwnerID == lec.OwnerID && other.Status == model.LectureOpen && lec.Status == model.LectureOpen {
			return repository.ErrDuplicate
		}
	}
	s.lectures[lec.ID] = *lec
	id := lec.ID
	onUndo(db, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.lectures, id)
	})
	return nil
}

func (l *Lectures) GetByID(_ context.Context, _ database.Querier, id string) (*model.Lecture, error) {
	return l.find(func(lec model.Lecture) bool { return lec.ID == id })
}

func (l *Lectures) FindOpenByOwner(_ context.Context, _ database.Querier, ownerID string) (*model.Lecture, error) {
	return l.find(func(lec model.Lecture) bool { return lec.OwnerID == ownerID && lec.Status == model.LectureOpen })
}

func (l *Lectures) FindByIDAndOwner(_ context.Context, _ database.Querier, id, ownerID string) (*model.Lecture, error) {
	return l.find(func(lec model.Lecture) bool { return lec.ID == id && lec.OwnerID == ownerID })
}

func (l *Lectures) FindBySecretCode(_ context.Context, _ database.Querier, code string) (*model.Lecture, error) {
	return l.find(func(lec model.Lecture) bool { return lec.SecretCode == code })
}

func (l *Lectures) find(match func(model.Lecture) bool) (*model.Lecture, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, lec := range l.s.lectures {
		if match(lec) {
			return &lec, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Delete removes the lecture and cascades to its attendances.
func (l *Lectures) Delete(_ context.Context, db database.Querier, id string) error {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	lec, ok := s.lectures[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(s.lectures, id)
	var removed []model.Attendance
	for key, a := range s.attendances {
		if a.LectureID == id {
			removed = append(removed, a)
			delete(s.attendances, key)
		}
	}
	onUndo(db, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lectures[lec.ID] = lec
		for _, a := range removed {
			s.attendances[a.ID] = a
		}
	})
	return nil
}

// Attendances implements the attendance store over a Store.
type Attendances struct{ s *Store }

func (a *Attendances) Create(_ context.Context, db database.Querier, att *model.Attendance) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lectures[att.LectureID]; !ok {
		return repository.ErrNotFound
	}
	for _, other := range s.attendances {
		if other.LectureID == att.LectureID && other.AttendeeID == att.AttendeeID {
			return repository.ErrDuplicate
		}
	}
	s.attendances[att.ID] = *att
	id := att.ID
	onUndo(db, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.attendances, id)
	})
	return nil
}

func (a *Attendances) Find(_ context.Context, _ database.Querier, lectureID, attendeeID string) (*model.Attendance, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, att := range a.s.attendances {
		if att.LectureID == lectureID && att.AttendeeID == attendeeID {
			return &att, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (a *Attendances) CountByLecture(_ context.Context, _ database.Querier, lectureID string) (int, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.s.countLocked(lectureID), nil
}
