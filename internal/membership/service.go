// internal/membership/service.go
package membership

import (
	"context"
	"time"

	"libracore/internal/snapshot"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, reg Registration) (Member, error)
	Authenticate(ctx context.Context, username, password string) (Member, error)
	GetMember(ctx context.Context, username string) (Member, error)
	All(ctx context.Context) ([]Member, error)

	AddToBorrowed(ctx context.Context, username, ref string, now time.Time) error
	RemoveFromBorrowed(ctx context.Context, username, ref string, now time.Time) error
	AddToRequested(ctx context.Context, username, resourceID string) error
	MoveToReserved(ctx context.Context, username, resourceID, ref string) error
	RemoveRequest(ctx context.Context, username, resourceID string) error

	AddAccountBalance(ctx context.Context, username string, amount int) error
	SubtractAccountBalance(ctx context.Context, username string, amount int) error
	RefundFine(ctx context.Context, username string, amount int) error
	AddTransaction(ctx context.Context, username, source string, amount int, now time.Time) error

	Snapshot(ctx context.Context) []snapshot.Member
	Restore(ctx context.Context, members []snapshot.Member) error
}
