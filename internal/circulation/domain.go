// internal/circulation/domain.go
package circulation

import (
	"fmt"
	"strings"
	"time"

	"libracore/internal/catalog"
)

// Loan is one borrow of a copy. Zero times mean "not set".
type Loan struct {
	BorrowerID          string    `json:"borrower_id"`
	DateBorrowed        time.Time `json:"date_borrowed"`
	DateReturned        time.Time `json:"date_returned,omitempty"`
	DateRequestedReturn time.Time `json:"date_requested_return,omitempty"`
}

// Active reports whether the loan has a borrower.
func (l Loan) Active() bool {
	return l.BorrowerID != ""
}

// CopyState is the circulation state of a single copy.
type CopyState string

const (
	StateAvailable       CopyState = "available"
	StateReserved        CopyState = "reserved"
	StateOnLoan          CopyState = "on_loan"
	StateReturnRequested CopyState = "return_requested"
)

// CopyRef addresses one copy across the whole library. Its string form is
// "<resourceID>-<copyID>".
type CopyRef struct {
	ResourceID string `json:"resource_id"`
	CopyID     string `json:"copy_id"`
}

func (r CopyRef) String() string {
	return r.ResourceID + "-" + r.CopyID
}

// ParseCopyRef splits on the last dash, so resource IDs may contain dashes.
func ParseCopyRef(s string) (CopyRef, error) {
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return CopyRef{}, fmt.Errorf("%w: malformed copy reference %q", ErrInvalidArgument, s)
	}
	return CopyRef{ResourceID: s[:i], CopyID: s[i+1:]}, nil
}

// Reservation is a hold placed on a copy for a queued user.
type Reservation struct {
	CopyID string `json:"copy_id"`
	User   string `json:"user"`
}

// ReturnRequest records that a borrower was asked to bring a copy back.
type ReturnRequest struct {
	CopyID   string    `json:"copy_id"`
	Borrower string    `json:"borrower"`
	DueDate  time.Time `json:"due_date"`
}

// CopyView is a read-only rendering of a copy for callers outside the
// aggregate.
type CopyView struct {
	ID           string    `json:"id"`
	State        CopyState `json:"state"`
	LoanDuration int       `json:"loan_duration"`
	Borrower     string    `json:"borrower,omitempty"`
	ReservedFor  string    `json:"reserved_for,omitempty"`
	DateBorrowed time.Time `json:"date_borrowed,omitempty"`
	DueDate      time.Time `json:"due_date,omitempty"`
	HistoryLen   int       `json:"history_len"`
}

// ResourceView is a read-only rendering of a resource aggregate.
type ResourceView struct {
	Entry     catalog.Entry `json:"entry"`
	Copies    []CopyView    `json:"copies"`
	Queue     []string      `json:"queue"`
	Available bool          `json:"available"`
}

// ReturnReceipt describes what a return did.
type ReturnReceipt struct {
	Ref         CopyRef      `json:"ref"`
	Fine        int          `json:"fine"`
	DaysLate    int          `json:"days_late"`
	Reservation *Reservation `json:"reservation,omitempty"`
}

// RequestReceipt describes what a request did.
type RequestReceipt struct {
	ResourceID    string         `json:"resource_id"`
	QueuePosition int            `json:"queue_position"`
	Reservation   *Reservation   `json:"reservation,omitempty"`
	ReturnRequest *ReturnRequest `json:"return_request,omitempty"`
}

// Event represents a domain event related to circulation.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	EventCopyLoaned      = "CopyLoaned"
	EventCopyReturned    = "CopyReturned"
	EventCopyReserved    = "CopyReserved"
	EventReturnRequested = "ReturnRequested"
	EventFineApplied     = "FineApplied"
	EventRequestCanceled = "RequestCanceled"
)

// CopyLoanedEvent is published when a copy goes out on loan.
type CopyLoanedEvent struct {
	Ref          string    `json:"ref"`
	Username     string    `json:"username"`
	DateBorrowed time.Time `json:"date_borrowed"`
}

// CopyReturnedEvent is published when a copy comes back.
type CopyReturnedEvent struct {
	Ref          string    `json:"ref"`
	Username     string    `json:"username"`
	DateReturned time.Time `json:"date_returned"`
}

// CopyReservedEvent is published when a copy is held for a queued user.
type CopyReservedEvent struct {
	Ref      string `json:"ref"`
	Username string `json:"username"`
}

// ReturnRequestedEvent is published when a borrower is asked to return a copy.
type ReturnRequestedEvent struct {
	Ref      string    `json:"ref"`
	Borrower string    `json:"borrower"`
	DueDate  time.Time `json:"due_date"`
}

// FineAppliedEvent is published when an overdue return is charged.
type FineAppliedEvent struct {
	Ref      string `json:"ref"`
	Username string `json:"username"`
	Amount   int    `json:"amount"`
	DaysLate int    `json:"days_late"`
}

// RequestCanceledEvent is published when a user leaves a reservation queue.
type RequestCanceledEvent struct {
	ResourceID string `json:"resource_id"`
	Username   string `json:"username"`
}
