package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/credential"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/ledger"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/lock"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/model"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/repository"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/testkit"
)

var testSecret = []byte("test-secret")

type fixture struct {
	svc    *LectureService
	store  *testkit.Store
	ledger *faultyLedger
	mr     *miniredis.Miniredis
	runner *testkit.Runner
}

// faultyLedger fails selected operations and delegates the rest.
type faultyLedger struct {
	*ledger.Ledger
	initErr error
	incrErr error
}

func (f *faultyLedger) Initialize(ctx context.Context, resource string, capacity int) error {
	if f.initErr != nil {
		return f.initErr
	}
	return f.Ledger.Initialize(ctx, resource, capacity)
}

func (f *faultyLedger) Increment(ctx context.Context, resource string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	return f.Ledger.Increment(ctx, resource)
}

// staleAttendances never sees an existing attendance, so the unique
// constraint is the only thing that stops a second insert.
type staleAttendances struct {
	*testkit.Attendances
}

func (staleAttendances) Find(context.Context, database.Querier, string, string) (*model.Attendance, error) {
	return nil, repository.ErrNotFound
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := testkit.NewStore()
	led := &faultyLedger{Ledger: ledger.New(client)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewLectureService(store.Lectures(), store.Attendances(), lock.NewRedis(client, lock.WithLogger(log)), led, Config{
		Secret: testSecret,
		Lock:   lock.Options{TTL: 2 * time.Second, RetryDelay: 5 * time.Millisecond, MaxRetries: 3},
		Logger: log,
	})
	return &fixture{svc: svc, store: store, ledger: led, mr: mr, runner: &testkit.Runner{}}
}

func (f *fixture) open(t *testing.T, owner string, capacity int) *CreateLectureResult {
	t.Helper()
	var res *CreateLectureResult
	err := f.runner.InTx(context.Background(), func(tx database.Tx) error {
		var err error
		res, err = f.svc.CreateLecture(context.Background(), tx, owner, model.RoleTeacher, capacity)
		return err
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) attend(attendee, code string) (*AttendResult, error) {
	var res *AttendResult
	err := f.runner.InTx(context.Background(), func(tx database.Tx) error {
		var err error
		res, err = f.svc.AttendLecture(context.Background(), tx, attendee, code)
		return err
	})
	return res, err
}

func (f *fixture) remaining(t *testing.T, lectureID string) string {
	t.Helper()
	v, err := f.mr.Get(ledger.Key(resourceName(lectureID)))
	require.NoError(t, err)
	return v
}

func TestCreateLecture(t *testing.T) {
	f := newFixture(t)

	res := f.open(t, "t1", 3)

	assert.Len(t, res.SecretCode, secretCodeLength)
	assert.Equal(t, res.SecretCode, res.Lecture.SecretCode)
	assert.Equal(t, model.LectureOpen, res.Lecture.Status)
	assert.Equal(t, "3", f.remaining(t, res.Lecture.ID))
	assert.Equal(t, 1, f.store.LectureCount())

	room, err := f.svc.OpenRoom(res.RoomID)
	require.NoError(t, err)
	assert.Equal(t, credential.Room{LectureID: res.Lecture.ID, Capacity: 3, SecretCode: res.SecretCode}, room)
}

func TestCreateLectureValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		role     string
		capacity int
		want     error
	}{
		{"student", model.RoleStudent, 10, ErrUnauthorized},
		{"zero capacity", model.RoleTeacher, 0, ErrInvalidInput},
		{"negative capacity", model.RoleTeacher, -1, ErrInvalidInput},
		{"too large", model.RoleTeacher, maxCapacity + 1, ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateLecture(ctx, testkit.NewTx(), "t1", tc.role, tc.capacity)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.store.LectureCount())
}

func TestCreateLectureConflict(t *testing.T) {
	f := newFixture(t)
	first := f.open(t, "t1", 5)

	err := f.runner.InTx(context.Background(), func(tx database.Tx) error {
		_, err := f.svc.CreateLecture(context.Background(), tx, "t1", model.RoleTeacher, 5)
		return err
	})

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.store.LectureCount())
	assert.Equal(t, "5", f.remaining(t, first.Lecture.ID))
}

func TestCreateLectureRetriesTakenSecretCode(t *testing.T) {
	f := newFixture(t)
	codes := []string{"aaaaaa", "aaaaaa", "bbbbbb"}
	f.svc.secretCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first := f.open(t, "t1", 1)
	second := f.open(t, "t2", 1)

	assert.Equal(t, "aaaaaa", first.SecretCode)
	assert.Equal(t, "bbbbbb", second.SecretCode)
}

func TestCreateLectureGivesUpOnSecretCodes(t *testing.T) {
	f := newFixture(t)
	f.svc.secretCode = func() (string, error) { return "aaaaaa", nil }
	f.open(t, "t1", 1)

	err := f.runner.InTx(context.Background(), func(tx database.Tx) error {
		_, err := f.svc.CreateLecture(context.Background(), tx, "t2", model.RoleTeacher, 1)
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free secret code")
}

func TestCreateLectureCommitFailureRemovesLedgerEntry(t *testing.T) {
	f := newFixture(t)
	f.runner.FailCommit = errors.New("connection lost")

	var id string
	err := f.runner.InTx(context.Background(), func(tx database.Tx) error {
		res, err := f.svc.CreateLecture(context.Background(), tx, "t1", model.RoleTeacher, 4)
		if err == nil {
			id = res.Lecture.ID
		}
		return err
	})

	require.Error(t, err)
	require.NotEmpty(t, id)
	assert.False(t, f.mr.Exists(ledger.Key(resourceName(id))))
	assert.Zero(t, f.store.LectureCount())
}

func TestCreateLectureLedgerFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.initErr = errors.New("redis down")

	err := f.runner.InTx(context.Background(), func(tx database.Tx) error {
		_, err := f.svc.CreateLecture(context.Background(), tx, "t1", model.RoleTeacher, 4)
		return err
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.NotErrorIs(t, err, ErrCompensationFailed)
	assert.Zero(t, f.store.LectureCount())
	assert.Empty(t, f.mr.Keys())
}

func TestAttendConcurrentCapacity(t *testing.T) {
	const capacity, extra = 5, 3
	f := newFixture(t)
	lec := f.open(t, "t1", capacity)

	var (
		mu       sync.Mutex
		created  int
		rejected int
	)
	var g errgroup.Group
	for i := 0; i < capacity+extra; i++ {
		attendee := fmt.Sprintf("s%d", i)
		g.Go(func() error {
			res, err := f.attend(attendee, lec.SecretCode)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Status == AttendCreated:
				created++
			case errors.Is(err, ErrCapacityExceeded):
				rejected++
			default:
				return fmt.Errorf("attendee %s: %v %v", attendee, res, err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, capacity, created)
	assert.Equal(t, extra, rejected)
	assert.Equal(t, capacity, f.store.AttendanceCount(lec.Lecture.ID))
	assert.Equal(t, "0", f.remaining(t, lec.Lecture.ID))
	assert.False(t, f.mr.Exists(lock.Key(resourceName(lec.Lecture.ID))))
}

func TestAttendCapacityTwoThreeAttendees(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 2)

	for _, s := range []string{"a", "b"} {
		res, err := f.attend(s, lec.SecretCode)
		require.NoError(t, err)
		assert.Equal(t, AttendCreated, res.Status)
	}
	_, err := f.attend("c", lec.SecretCode)

	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, f.store.AttendanceCount(lec.Lecture.ID))
	assert.Equal(t, "0", f.remaining(t, lec.Lecture.ID))
}

func TestAttendAlreadyAttended(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 3)

	first, err := f.attend("s1", lec.SecretCode)
	require.NoError(t, err)
	again, err := f.attend("s1", lec.SecretCode)
	require.NoError(t, err)

	assert.Equal(t, AttendAlreadyAttended, again.Status)
	assert.Equal(t, first.AttendanceID, again.AttendanceID)
	assert.Equal(t, "2", f.remaining(t, lec.Lecture.ID))
}

func TestAttendUnknownCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.attend("s1", "zzzzzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttendLockUnavailable(t *testing.T) {
	f := newFixture(t)
	f.svc.lockOpts = lock.Options{TTL: 50 * time.Millisecond, RetryDelay: time.Millisecond, MaxRetries: 1}
	lec := f.open(t, "t1", 3)
	require.NoError(t, f.mr.Set(lock.Key(resourceName(lec.Lecture.ID)), "someone-else"))

	_, err := f.attend("s1", lec.SecretCode)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "3", f.remaining(t, lec.Lecture.ID))
	assert.Zero(t, f.store.AttendanceCount(lec.Lecture.ID))
}

func TestAttendCommitFailureReturnsSeat(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 3)
	f.runner.FailCommit = errors.New("serialization failure")

	_, err := f.attend("s1", lec.SecretCode)

	require.Error(t, err)
	assert.Equal(t, "3", f.remaining(t, lec.Lecture.ID))
	assert.Zero(t, f.store.AttendanceCount(lec.Lecture.ID))
}

func TestAttendRolledBackAfterCloseLeavesNoLedgerEntry(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 3)
	ctx := context.Background()

	attendTx := testkit.NewTx()
	_, err := f.svc.AttendLecture(ctx, attendTx, "s1", lec.SecretCode)
	require.NoError(t, err)

	err = f.runner.InTx(ctx, func(tx database.Tx) error {
		return f.svc.DeleteLecture(ctx, tx, "t1", model.RoleTeacher, lec.Lecture.ID)
	})
	require.NoError(t, err)
	require.False(t, f.mr.Exists(ledger.Key(resourceName(lec.Lecture.ID))))

	attendTx.Rollback(ctx)

	assert.False(t, f.mr.Exists(ledger.Key(resourceName(lec.Lecture.ID))))
	assert.Zero(t, f.store.LectureCount())
}

func TestAttendDuplicateInsertReturnsSeat(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 3)
	_, err := f.attend("s1", lec.SecretCode)
	require.NoError(t, err)

	f.svc.attendances = staleAttendances{Attendances: f.store.Attendances()}
	_, err = f.attend("s1", lec.SecretCode)

	assert.ErrorIs(t, err, ErrAlreadyAttended)
	assert.Equal(t, "2", f.remaining(t, lec.Lecture.ID))
	assert.Equal(t, 1, f.store.AttendanceCount(lec.Lecture.ID))
}

func TestAttendCompensationFailure(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 1)
	_, err := f.attend("s1", lec.SecretCode)
	require.NoError(t, err)

	f.ledger.incrErr = errors.New("redis down")
	_, err = f.attend("s2", lec.SecretCode)

	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.ErrorIs(t, err, ErrCompensationFailed)
	assert.Equal(t, "-1", f.remaining(t, lec.Lecture.ID))
}

func TestDeleteLecture(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 3)
	_, err := f.attend("s1", lec.SecretCode)
	require.NoError(t, err)

	del := func() error {
		return f.runner.InTx(context.Background(), func(tx database.Tx) error {
			return f.svc.DeleteLecture(context.Background(), tx, "t1", model.RoleTeacher, lec.Lecture.ID)
		})
	}

	require.NoError(t, del())
	assert.Zero(t, f.store.LectureCount())
	assert.Zero(t, f.store.AttendanceCount(lec.Lecture.ID))
	assert.False(t, f.mr.Exists(ledger.Key(resourceName(lec.Lecture.ID))))

	assert.ErrorIs(t, del(), ErrNotFound)
	assert.False(t, f.mr.Exists(ledger.Key(resourceName(lec.Lecture.ID))))

	// The owner may open a new lecture once the previous one is closed.
	f.open(t, "t1", 1)
}

func TestDeleteLectureAuthorization(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 3)
	ctx := context.Background()

	err := f.svc.DeleteLecture(ctx, testkit.NewTx(), "t1", model.RoleStudent, lec.Lecture.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = f.svc.DeleteLecture(ctx, testkit.NewTx(), "t2", model.RoleTeacher, lec.Lecture.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, f.store.LectureCount())
	assert.Equal(t, "3", f.remaining(t, lec.Lecture.ID))
}

func TestDeleteLectureRollbackRestoresLedger(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 3)
	_, err := f.attend("s1", lec.SecretCode)
	require.NoError(t, err)

	f.runner.FailCommit = errors.New("connection lost")
	err = f.runner.InTx(context.Background(), func(tx database.Tx) error {
		return f.svc.DeleteLecture(context.Background(), tx, "t1", model.RoleTeacher, lec.Lecture.ID)
	})

	require.Error(t, err)
	assert.Equal(t, "2", f.remaining(t, lec.Lecture.ID))
	assert.Equal(t, 1, f.store.LectureCount())
	assert.Equal(t, 1, f.store.AttendanceCount(lec.Lecture.ID))
}

func TestLectureInfo(t *testing.T) {
	f := newFixture(t)
	lec := f.open(t, "t1", 4)
	for _, s := range []string{"a", "b"} {
		_, err := f.attend(s, lec.SecretCode)
		require.NoError(t, err)
	}

	info, err := f.svc.LectureInfo(context.Background(), testkit.NewTx(), lec.Lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Remaining)
	assert.Equal(t, 2, info.Attendees)
	assert.Equal(t, lec.SecretCode, info.SecretCode)

	f.mr.Del(ledger.Key(resourceName(lec.Lecture.ID)))
	info, err = f.svc.LectureInfo(context.Background(), testkit.NewTx(), lec.Lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Remaining)

	_, err = f.svc.LectureInfo(context.Background(), testkit.NewTx(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPassport(t *testing.T) {
	f := newFixture(t)

	token, err := f.svc.IssuePassport("  42 ", model.RoleStudent)
	require.NoError(t, err)
	id, err := f.svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, credential.Identity{SubjectID: "42", Role: model.RoleStudent}, id)

	_, err = f.svc.Authenticate(token + "0")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.IssuePassport("42", "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.IssuePassport("", model.RoleTeacher)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.IssuePassport("a:b", model.RoleTeacher)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOpenRoomRejectsIdentity(t *testing.T) {
	f := newFixture(t)
	token, err := f.svc.IssuePassport("7", model.RoleTeacher)
	require.NoError(t, err)

	_, err = f.svc.OpenRoom(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewSecretCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := newSecretCode()
		require.NoError(t, err)
		require.Len(t, code, secretCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(secretCodeAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 90)
}
