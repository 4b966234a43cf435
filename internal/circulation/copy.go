// internal/circulation/copy.go
package circulation

import (
	"slices"
	"time"
)

const day = 24 * time.Hour

// CopyRecord is the state of one physical copy. A copy is available iff it
// has no current borrower and is not reserved; reservations are only ever
// placed on available copies.
type CopyRecord struct {
	ID           string
	LoanDuration int
	Current      Loan
	ReservedFor  string
	History      []Loan
	// Removed marks a copy withdrawn from circulation. Its ID is never
	// reused.
	Removed bool
}

func newCopy(id string, loanDuration int) *CopyRecord {
	return &CopyRecord{ID: id, LoanDuration: loanDuration}
}

func (c *CopyRecord) IsAvailable() bool {
	return !c.Current.Active() && !c.IsReserved()
}

func (c *CopyRecord) IsReserved() bool {
	return c.ReservedFor != ""
}

func (c *CopyRecord) IsOnLoan() bool {
	return c.Current.Active()
}

func (c *CopyRecord) State() CopyState {
	switch {
	case c.Current.Active() && !c.Current.DateRequestedReturn.IsZero():
		return StateReturnRequested
	case c.Current.Active():
		return StateOnLoan
	case c.IsReserved():
		return StateReserved
	default:
		return StateAvailable
	}
}

// Loan hands the copy to userID. Borrowing consumes any reservation.
// Whether userID may take it is the aggregate's decision.
func (c *CopyRecord) Loan(userID string, now time.Time) {
	c.Current = Loan{BorrowerID: userID, DateBorrowed: now}
	c.ReservedFor = ""
}

func (c *CopyRecord) Reserve(userID string) {
	c.ReservedFor = userID
}

func (c *CopyRecord) Unreserve() {
	c.ReservedFor = ""
}

// RequestReturn sets the date the borrower must return the copy by and
// returns it. Calling it again overwrites the date.
func (c *CopyRecord) RequestReturn(now time.Time) time.Time {
	due := c.EstimatedReturnDate(now)
	c.Current.DateRequestedReturn = due
	return due
}

// Return closes the current loan into History and frees the copy.
func (c *CopyRecord) Return(now time.Time) Loan {
	closed := c.Current
	closed.DateReturned = now
	c.History = append(c.History, closed)
	c.Current = Loan{}
	return closed
}

// EstimatedReturnDate is the borrow day plus the loan duration. A result
// that is already in the past is pushed to now + 1 day.
func (c *CopyRecord) EstimatedReturnDate(now time.Time) time.Time {
	clamp := now.Add(day)
	if c.Current.DateBorrowed.IsZero() {
		return clamp
	}
	y, m, d := c.Current.DateBorrowed.Date()
	est := time.Date(y, m, d+c.LoanDuration, 0, 0, 0, 0, c.Current.DateBorrowed.Location())
	if est.Before(now) {
		return clamp
	}
	return est
}

func (c *CopyRecord) clone() CopyRecord {
	out := *c
	out.History = slices.Clone(c.History)
	return out
}

func (c *CopyRecord) view(now time.Time) CopyView {
	v := CopyView{
		ID:           c.ID,
		State:        c.State(),
		LoanDuration: c.LoanDuration,
		Borrower:     c.Current.BorrowerID,
		ReservedFor:  c.ReservedFor,
		DateBorrowed: c.Current.DateBorrowed,
		HistoryLen:   len(c.History),
	}
	if c.Current.Active() {
		v.DueDate = c.Current.DateRequestedReturn
		if v.DueDate.IsZero() {
			v.DueDate = c.EstimatedReturnDate(now)
		}
	}
	return v
}
