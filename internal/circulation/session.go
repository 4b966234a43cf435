// internal/circulation/session.go
package circulation

import (
	"context"
	"fmt"
	"strings"

	"libracore/internal/membership"
)

// Session binds a logged-in member to the service so callers act on their
// own behalf without passing the username around.
type Session struct {
	svc  Service
	user string
}

func NewSession(svc Service, username string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: session needs a username", ErrInvalidArgument)
	}
	return &Session{svc: svc, user: username}, nil
}

func (s *Session) Username() string { return s.user }

// Borrow lends the copy named by ref ("<resource>-<copy>").
func (s *Session) Borrow(ctx context.Context, ref string) (Loan, error) {
	r, err := ParseCopyRef(ref)
	if err != nil {
		return Loan{}, err
	}
	return s.svc.LoanResource(ctx, s.user, r)
}

func (s *Session) Return(ctx context.Context, ref string) (ReturnReceipt, error) {
	r, err := ParseCopyRef(ref)
	if err != nil {
		return ReturnReceipt{}, err
	}
	return s.svc.ReturnResource(ctx, s.user, r)
}

func (s *Session) Request(ctx context.Context, resourceID string) (RequestReceipt, error) {
	return s.svc.RequestResource(ctx, s.user, resourceID)
}

func (s *Session) CancelRequest(ctx context.Context, resourceID string) error {
	return s.svc.CancelRequest(ctx, s.user, resourceID)
}

func (s *Session) Overdue(ctx context.Context) ([]CopyRef, error) {
	return s.svc.CheckForOverdue(ctx, s.user)
}

func (s *Session) PayFine(ctx context.Context, amount int) (membership.Member, error) {
	return s.svc.PayFine(ctx, s.user, amount)
}
