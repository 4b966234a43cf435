// internal/membership/membership_test.go
package membership

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"libracore/internal/snapshot"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), rate.NewLimiter(rate.Inf, 1))
}

func register(t *testing.T, s Service, username string) Member {
	t.Helper()
	m, err := s.RegisterMember(context.Background(), Registration{
		Username:  username,
		FirstName: "Test",
		LastName:  "User",
		Email:     username + "@example.com",
		Password:  "SecurePass123!",
	})
	require.NoError(t, err)
	return m
}

func TestRegisterMember(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	m := register(t, s, "alice")
	assert.Equal(t, "alice", m.Username)
	assert.Equal(t, "Test User", m.FullName())

	_, err := s.RegisterMember(ctx, Registration{Username: "alice", Email: "a@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrMemberExists)

	_, err = s.RegisterMember(ctx, Registration{Username: "bad name", Email: "b@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidMember)

	_, err = s.RegisterMember(ctx, Registration{Username: "bob", Email: "not-an-email", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidMember)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	register(t, s, "alice")

	m, err := s.Authenticate(ctx, "alice", "SecurePass123!")
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Username)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody", "SecurePass123!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateRateLimited(t *testing.T) {
	ctx := context.Background()
	s := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), rate.NewLimiter(rate.Every(time.Hour), 1))
	register(t, s, "alice")

	_, err := s.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, "alice", "SecurePass123!")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestCirculationLists(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	register(t, s, "bob")
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

	require.NoError(t, s.AddToRequested(ctx, "bob", "r1"))
	require.NoError(t, s.AddToRequested(ctx, "bob", "r1"))
	require.NoError(t, s.MoveToReserved(ctx, "bob", "r1", "r1-0"))

	m, err := s.GetMember(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, m.Requested)
	assert.Equal(t, []string{"r1-0"}, m.Reserved)

	require.NoError(t, s.AddToBorrowed(ctx, "bob", "r1-0", now))
	m, _ = s.GetMember(ctx, "bob")
	assert.Empty(t, m.Reserved)
	assert.True(t, m.HasBorrowed("r1-0"))
	require.Len(t, m.BorrowHistory, 1)

	later := now.Add(48 * time.Hour)
	require.NoError(t, s.RemoveFromBorrowed(ctx, "bob", "r1-0", later))
	m, _ = s.GetMember(ctx, "bob")
	assert.Empty(t, m.Borrowed)
	assert.Equal(t, later, m.BorrowHistory[0].DateReturned)

	err = s.RemoveFromBorrowed(ctx, "bob", "r1-0", later)
	assert.ErrorIs(t, err, ErrInvalidMember)

	err = s.AddToRequested(ctx, "nobody", "r1")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestBalance(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	register(t, s, "carl")
	now := time.Now()

	require.NoError(t, s.AddAccountBalance(ctx, "carl", 12))
	require.NoError(t, s.AddTransaction(ctx, "carl", "Library", 12, now))
	assert.ErrorIs(t, s.AddAccountBalance(ctx, "carl", -1), ErrInvalidAmount)

	assert.ErrorIs(t, s.SubtractAccountBalance(ctx, "carl", 0), ErrInvalidAmount)
	assert.ErrorIs(t, s.SubtractAccountBalance(ctx, "carl", 13), ErrInvalidAmount)
	require.NoError(t, s.SubtractAccountBalance(ctx, "carl", 5))

	m, err := s.GetMember(ctx, "carl")
	require.NoError(t, err)
	assert.Equal(t, 7, m.Balance)
	assert.Equal(t, []int{12}, m.FineHistory)
	require.Len(t, m.Transactions, 1)
	assert.Equal(t, "Library", m.Transactions[0].Source)
}

func TestRefundFine(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	register(t, s, "carl")

	require.NoError(t, s.AddAccountBalance(ctx, "carl", 4))
	require.NoError(t, s.AddAccountBalance(ctx, "carl", 9))
	require.NoError(t, s.AddAccountBalance(ctx, "carl", 4))
	assert.ErrorIs(t, s.RefundFine(ctx, "carl", 18), ErrInvalidAmount)
	require.NoError(t, s.RefundFine(ctx, "carl", 9))

	m, err := s.GetMember(ctx, "carl")
	require.NoError(t, err)
	assert.Equal(t, 8, m.Balance)
	assert.Equal(t, []int{4, 4}, m.FineHistory)
	assert.ErrorIs(t, s.RefundFine(ctx, "nobody", 1), ErrMemberNotFound)
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	register(t, s, "alice")
	register(t, s, "bob")
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	require.NoError(t, s.AddToBorrowed(ctx, "alice", "r1-0", now))
	require.NoError(t, s.AddAccountBalance(ctx, "alice", 4))
	require.NoError(t, s.AddTransaction(ctx, "alice", "Library", 4, now))

	snap := s.Snapshot(ctx)
	require.Len(t, snap, 2)
	assert.Equal(t, "alice", snap[0].Username)
	assert.Equal(t, "01-03-2024 10:00:00", snap[0].BorrowHistory[0].DateBorrowed)

	restored := newTestService(t)
	require.NoError(t, restored.Restore(ctx, snap))

	m, err := restored.GetMember(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, m.Balance)
	assert.Equal(t, []string{"r1-0"}, m.Borrowed)
	assert.True(t, m.BorrowHistory[0].DateBorrowed.Equal(now))

	_, err = restored.Authenticate(ctx, "bob", "SecurePass123!")
	assert.NoError(t, err)
}

func TestRestoreToleratesBadDates(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := s.Restore(ctx, []snapshot.Member{{
		Username:      "dora",
		Email:         "dora@example.com",
		BorrowHistory: []snapshot.BorrowEntry{{CopyRef: "r9-0", DateBorrowed: "yesterday"}},
		Transactions:  []snapshot.Transaction{{ID: "not-a-uuid", Source: "Library", Date: "01-03-2024 10:00:00", Amount: 2}},
	}})
	require.NoError(t, err)

	m, err := s.GetMember(ctx, "dora")
	require.NoError(t, err)
	require.Len(t, m.BorrowHistory, 1)
	assert.True(t, m.BorrowHistory[0].DateBorrowed.IsZero())
	require.Len(t, m.Transactions, 1)
	assert.NotEqual(t, uuid.Nil, m.Transactions[0].ID)

	err = s.Restore(ctx, []snapshot.Member{{Username: "x"}, {Username: "x"}})
	assert.ErrorIs(t, err, ErrMemberExists)
}

func TestPasswordHash(t *testing.T) {
	hash, salt, err := hashPassword("hunter2")
	require.NoError(t, err)

	ok, err := verifyPassword("hunter2", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("hunter3", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("hunter2", "%%%", hash)
	assert.Error(t, err)
}
