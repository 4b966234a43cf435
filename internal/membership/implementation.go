// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"libracore/internal/snapshot"
)

// service implements the Service interface over an in-memory member table.
// Persistence goes through Snapshot and Restore.
type service struct {
	mu          sync.RWMutex
	members     map[string]*Member
	credentials map[string]Credential
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewService creates a new membership service instance. A nil limiter
// allows five login attempts, refilling one every twelve seconds.
func NewService(logger *slog.Logger, limiter *rate.Limiter) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(12*time.Second), 5)
	}
	return &service{
		members:     make(map[string]*Member),
		credentials: make(map[string]Credential),
		rateLimiter: limiter,
		logger:      logger,
	}
}

// RegisterMember creates a new member.
func (s *service) RegisterMember(ctx context.Context, reg Registration) (Member, error) {
	username := strings.TrimSpace(reg.Username)
	if username == "" || strings.ContainsAny(username, " \t\n") {
		return Member{}, fmt.Errorf("%w: username %q", ErrInvalidMember, reg.Username)
	}
	if _, err := mail.ParseAddress(reg.Email); err != nil {
		return Member{}, fmt.Errorf("%w: email %q", ErrInvalidMember, reg.Email)
	}
	if reg.Password == "" {
		return Member{}, fmt.Errorf("%w: empty password", ErrInvalidMember)
	}

	passwordHash, salt, err := hashPassword(reg.Password)
	if err != nil {
		return Member{}, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[username]; ok {
		return Member{}, fmt.Errorf("%w: %s", ErrMemberExists, username)
	}
	m := &Member{
		Username:  username,
		FirstName: strings.TrimSpace(reg.FirstName),
		LastName:  strings.TrimSpace(reg.LastName),
		Email:     reg.Email,
		Librarian: reg.Librarian,
	}
	s.members[username] = m
	s.credentials[username] = Credential{Username: username, PasswordHash: passwordHash, Salt: salt}
	s.logger.Info("member registered", slog.String("username", username))
	return m.clone(), nil
}

// Authenticate verifies a member's credentials and returns the member if successful.
func (s *service) Authenticate(ctx context.Context, username, password string) (Member, error) {
	if !s.rateLimiter.Allow() {
		return Member{}, ErrRateLimited
	}

	s.mu.RLock()
	m, ok := s.members[username]
	cred, hasCred := s.credentials[username]
	var out Member
	if ok {
		out = m.clone()
	}
	s.mu.RUnlock()

	if !ok || !hasCred {
		return Member{}, fmt.Errorf("authentication failed: %w", ErrInvalidCredentials)
	}
	valid, err := verifyPassword(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		return Member{}, fmt.Errorf("authentication failed: %w", err)
	}
	if !valid {
		return Member{}, fmt.Errorf("authentication failed: %w", ErrInvalidCredentials)
	}
	return out, nil
}

// GetMember retrieves a member by username.
func (s *service) GetMember(ctx context.Context, username string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[username]
	if !ok {
		return Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, username)
	}
	return m.clone(), nil
}

// All returns every member ordered by username.
func (s *service) All(ctx context.Context) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.clone())
	}
	slices.SortFunc(out, func(a, b Member) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

// update runs fn on the stored member under the write lock.
func (s *service) update(username string, fn func(m *Member) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, username)
	}
	return fn(m)
}

// AddToBorrowed records a new loan. A pending request or reservation for
// the same resource is settled by it.
func (s *service) AddToBorrowed(ctx context.Context, username, ref string, now time.Time) error {
	resourceID := resourceOf(ref)
	return s.update(username, func(m *Member) error {
		m.Borrowed = append(m.Borrowed, ref)
		m.BorrowHistory = append(m.BorrowHistory, BorrowEntry{CopyRef: ref, DateBorrowed: now})
		m.Requested = slices.DeleteFunc(m.Requested, func(id string) bool { return id == resourceID })
		m.Reserved = slices.DeleteFunc(m.Reserved, func(r string) bool { return resourceOf(r) == resourceID })
		return nil
	})
}

func (s *service) RemoveFromBorrowed(ctx context.Context, username, ref string, now time.Time) error {
	return s.update(username, func(m *Member) error {
		i := slices.Index(m.Borrowed, ref)
		if i < 0 {
			return fmt.Errorf("%w: %s has not borrowed %s", ErrInvalidMember, username, ref)
		}
		m.Borrowed = slices.Delete(m.Borrowed, i, i+1)
		for j := len(m.BorrowHistory) - 1; j >= 0; j-- {
			if h := &m.BorrowHistory[j]; h.CopyRef == ref && h.DateReturned.IsZero() {
				h.DateReturned = now
				break
			}
		}
		return nil
	})
}

func (s *service) AddToRequested(ctx context.Context, username, resourceID string) error {
	return s.update(username, func(m *Member) error {
		if !slices.Contains(m.Requested, resourceID) {
			m.Requested = append(m.Requested, resourceID)
		}
		return nil
	})
}

// MoveToReserved moves resourceID from the requested list to the reserved
// list as the concrete copy ref held for the member.
func (s *service) MoveToReserved(ctx context.Context, username, resourceID, ref string) error {
	return s.update(username, func(m *Member) error {
		m.Requested = slices.DeleteFunc(m.Requested, func(id string) bool { return id == resourceID })
		if !slices.Contains(m.Reserved, ref) {
			m.Reserved = append(m.Reserved, ref)
		}
		return nil
	})
}

// RemoveRequest drops both the request and any reservation for resourceID.
func (s *service) RemoveRequest(ctx context.Context, username, resourceID string) error {
	return s.update(username, func(m *Member) error {
		m.Requested = slices.DeleteFunc(m.Requested, func(id string) bool { return id == resourceID })
		m.Reserved = slices.DeleteFunc(m.Reserved, func(r string) bool { return resourceOf(r) == resourceID })
		return nil
	})
}

// AddAccountBalance charges amount to the member and logs it as a fine.
func (s *service) AddAccountBalance(ctx context.Context, username string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return s.update(username, func(m *Member) error {
		m.Balance += amount
		m.FineHistory = append(m.FineHistory, amount)
		return nil
	})
}

func (s *service) SubtractAccountBalance(ctx context.Context, username string, amount int) error {
	return s.update(username, func(m *Member) error {
		if amount <= 0 || amount > m.Balance {
			return fmt.Errorf("%w: cannot pay %d against a balance of %d", ErrInvalidAmount, amount, m.Balance)
		}
		m.Balance -= amount
		return nil
	})
}

func (s *service) AddTransaction(ctx context.Context, username, source string, amount int, now time.Time) error {
	return s.update(username, func(m *Member) error {
		m.Transactions = append(m.Transactions, Transaction{
			ID:     uuid.New(),
			Source: source,
			Date:   now,
			Amount: amount,
		})
		return nil
	})
}

// RefundFine takes back a fine charged with AddAccountBalance. The balance
// drops by amount and the latest matching fine history entry is removed.
func (s *service) RefundFine(ctx context.Context, username string, amount int) error {
	return s.update(username, func(m *Member) error {
		if amount <= 0 || amount > m.Balance {
			return fmt.Errorf("%w: cannot refund %d against a balance of %d", ErrInvalidAmount, amount, m.Balance)
		}
		m.Balance -= amount
		for i := len(m.FineHistory) - 1; i >= 0; i-- {
			if m.FineHistory[i] == amount {
				m.FineHistory = slices.Delete(m.FineHistory, i, i+1)
				break
			}
		}
		return nil
	})
}

// Snapshot exports every member, credentials included.
func (s *service) Snapshot(ctx context.Context) []snapshot.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]snapshot.Member, 0, len(s.members))
	for _, m := range s.members {
		cred := s.credentials[m.Username]
		sm := snapshot.Member{
			Username:     m.Username,
			FirstName:    m.FirstName,
			LastName:     m.LastName,
			Email:        m.Email,
			PasswordHash: cred.PasswordHash,
			Salt:         cred.Salt,
			Librarian:    m.Librarian,
			Balance:      m.Balance,
			Borrowed:     slices.Clone(m.Borrowed),
			Requested:    slices.Clone(m.Requested),
			Reserved:     slices.Clone(m.Reserved),
			FineHistory:  slices.Clone(m.FineHistory),
		}
		for _, h := range m.BorrowHistory {
			sm.BorrowHistory = append(sm.BorrowHistory, snapshot.BorrowEntry{
				CopyRef:      h.CopyRef,
				DateBorrowed: snapshot.FormatTimestamp(h.DateBorrowed),
				DateReturned: snapshot.FormatTimestamp(h.DateReturned),
			})
		}
		for _, t := range m.Transactions {
			sm.Transactions = append(sm.Transactions, snapshot.Transaction{
				ID:     t.ID.String(),
				Source: t.Source,
				Date:   snapshot.FormatTimestamp(t.Date),
				Amount: t.Amount,
			})
		}
		out = append(out, sm)
	}
	slices.SortFunc(out, func(a, b snapshot.Member) int { return strings.Compare(a.Username, b.Username) })
	return out
}

// Restore replaces the member table with members. Unparseable dates are
// logged and left unset.
func (s *service) Restore(ctx context.Context, members []snapshot.Member) error {
	table := make(map[string]*Member, len(members))
	creds := make(map[string]Credential, len(members))
	for _, sm := range members {
		if sm.Username == "" {
			return fmt.Errorf("%w: snapshot member without username", ErrInvalidMember)
		}
		if _, dup := table[sm.Username]; dup {
			return fmt.Errorf("%w: %s appears twice in snapshot", ErrMemberExists, sm.Username)
		}
		m := &Member{
			Username:    sm.Username,
			FirstName:   sm.FirstName,
			LastName:    sm.LastName,
			Email:       sm.Email,
			Librarian:   sm.Librarian,
			Balance:     sm.Balance,
			Borrowed:    slices.Clone(sm.Borrowed),
			Requested:   slices.Clone(sm.Requested),
			Reserved:    slices.Clone(sm.Reserved),
			FineHistory: slices.Clone(sm.FineHistory),
		}
		for _, h := range sm.BorrowHistory {
			m.BorrowHistory = append(m.BorrowHistory, BorrowEntry{
				CopyRef:      h.CopyRef,
				DateBorrowed: s.parseTime(sm.Username, "date_borrowed", h.DateBorrowed),
				DateReturned: s.parseTime(sm.Username, "date_returned", h.DateReturned),
			})
		}
		for _, t := range sm.Transactions {
			id, err := uuid.Parse(t.ID)
			if err != nil {
				s.logger.Warn("snapshot transaction id unreadable, assigning a new one",
					slog.String("username", sm.Username), slog.String("id", t.ID))
				id = uuid.New()
			}
			m.Transactions = append(m.Transactions, Transaction{
				ID:     id,
				Source: t.Source,
				Date:   s.parseTime(sm.Username, "transaction date", t.Date),
				Amount: t.Amount,
			})
		}
		table[sm.Username] = m
		if sm.PasswordHash != "" {
			creds[sm.Username] = Credential{Username: sm.Username, PasswordHash: sm.PasswordHash, Salt: sm.Salt}
		}
	}

	s.mu.Lock()
	s.members = table
	s.credentials = creds
	s.mu.Unlock()
	return nil
}

func (s *service) parseTime(username, field, value string) time.Time {
	t, err := snapshot.ParseTimestamp(value)
	if err != nil {
		s.logger.Warn("snapshot timestamp unreadable, leaving unset",
			slog.String("username", username), slog.String("field", field), slog.Any("error", err))
		return time.Time{}
	}
	return t
}

// resourceOf is the resource part of a "<resourceID>-<copyID>" reference.
func resourceOf(ref string) string {
	if i := strings.LastIndex(ref, "-"); i > 0 {
		return ref[:i]
	}
	return ref
}
