// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"libracore/internal/catalog"
	"libracore/internal/membership"
	"libracore/internal/snapshot"
)

// Service defines the interface for the circulation service.
type Service interface {
	AddResource(ctx context.Context, entry catalog.Entry, loanDurations ...int) (ResourceView, error)
	GetResource(ctx context.Context, id string) (ResourceView, error)
	ListResources(ctx context.Context) ([]ResourceView, error)
	SearchResources(ctx context.Context, q catalog.Query) ([]ResourceView, error)
	RemoveResource(ctx context.Context, id string) error
	EditResource(ctx context.Context, id, title, year string, attrs map[string]string) (ResourceView, error)
	AddCopy(ctx context.Context, resourceID string, loanDuration int) (CopyRef, error)
	RemoveCopy(ctx context.Context, ref CopyRef) error

	LoanResource(ctx context.Context, user string, ref CopyRef) (Loan, error)
	ReturnResource(ctx context.Context, user string, ref CopyRef) (ReturnReceipt, error)
	RequestResource(ctx context.Context, user, resourceID string) (RequestReceipt, error)
	CancelRequest(ctx context.Context, user, resourceID string) error

	CheckForOverdue(ctx context.Context, user string) ([]CopyRef, error)
	FindAllOverdue(ctx context.Context) ([]CopyRef, error)
	PayFine(ctx context.Context, user string, amount int) (membership.Member, error)

	ResourceHistory(ctx context.Context, id string) ([]Event, error)

	Snapshot(ctx context.Context) (*snapshot.Library, error)
	Restore(ctx context.Context, lib *snapshot.Library) error
}

// Members is the member side of circulation. membership.Service
// satisfies it.
type Members interface {
	GetMember(ctx context.Context, username string) (membership.Member, error)
	All(ctx context.Context) ([]membership.Member, error)

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

// Journal records circulation events per resource.
type Journal interface {
	Record(ctx context.Context, resourceID string, events ...Event) error
	History(ctx context.Context, resourceID string) ([]Event, error)
}

// Clock returns the current time. Each operation samples it once.
type Clock func() time.Time
