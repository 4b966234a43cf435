// internal/membership/domain.go
package membership

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Member represents a library member and the per-member circulation lists
// the circulation core keeps in step with its resources.
type Member struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Librarian bool   `json:"librarian"`
	// Balance is what the member owes, in whole currency units.
	Balance int `json:"balance"`
	// Borrowed and Reserved hold copy references, Requested holds resource IDs.
	Borrowed      []string      `json:"borrowed"`
	Requested     []string      `json:"requested"`
	Reserved      []string      `json:"reserved"`
	BorrowHistory []BorrowEntry `json:"borrow_history"`
	Transactions  []Transaction `json:"transactions"`
	FineHistory   []int         `json:"fine_history"`
}

// Credential represents a member's login credentials.
type Credential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Salt         string `json:"-"`
}

// BorrowEntry is one line of a member's borrow history.
type BorrowEntry struct {
	CopyRef      string    `json:"copy_ref"`
	DateBorrowed time.Time `json:"date_borrowed"`
	DateReturned time.Time `json:"date_returned,omitempty"`
}

// Transaction is a change to the member's balance. Charges are positive,
// payments negative.
type Transaction struct {
	ID     uuid.UUID `json:"id"`
	Source string    `json:"source"`
	Date   time.Time `json:"date"`
	Amount int       `json:"amount"`
}

// Registration is the input for creating a member.
type Registration struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Librarian bool   `json:"librarian"`
}

func (m Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// HasBorrowed reports whether ref is among the member's current loans.
func (m Member) HasBorrowed(ref string) bool {
	return slices.Contains(m.Borrowed, ref)
}

func (m Member) HasRequested(resourceID string) bool {
	return slices.Contains(m.Requested, resourceID)
}

func (m Member) clone() Member {
	out := m
	out.Borrowed = slices.Clone(m.Borrowed)
	out.Requested = slices.Clone(m.Requested)
	out.Reserved = slices.Clone(m.Reserved)
	out.BorrowHistory = slices.Clone(m.BorrowHistory)
	out.Transactions = slices.Clone(m.Transactions)
	out.FineHistory = slices.Clone(m.FineHistory)
	return out
}
