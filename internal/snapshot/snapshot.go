// internal/snapshot/snapshot.go

// Package snapshot defines the on-disk shape of the library state and the
// date formats used at the persistence boundary. Nothing inside the
// circulation core handles date strings; they are converted here.
package snapshot

import (
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	// TimestampLayout is dd-MM-yyyy HH:mm:ss.
	TimestampLayout = "02-01-2006 15:04:05"
	// DateLayout is dd-MM-yyyy.
	DateLayout = "02-01-2006"
	// slashDateLayout is dd/MM/yyyy, written by older saves.
	slashDateLayout = "02/01/2006"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Library is a full save of resources and members.
type Library struct {
	TakenAt   string     `json:"taken_at"`
	Resources []Resource `json:"resources"`
	Members   []Member   `json:"members"`
}

type Resource struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Title      string            `json:"title"`
	Year       string            `json:"year"`
	Thumbnail  string            `json:"thumbnail,omitempty"`
	DateAdded  string            `json:"date_added"`
	Attributes map[string]string `json:"attributes,omitempty"`
	NextCopyID int               `json:"next_copy_id"`
	Copies     []Copy            `json:"copies"`
	Queue      []string          `json:"queue"`
}

type Copy struct {
	ID           string `json:"id"`
	LoanDuration int    `json:"loan_duration"`
	Removed      bool   `json:"removed,omitempty"`
	ReservedFor  string `json:"reserved_for,omitempty"`
	History      []Loan `json:"borrow_history"`
	Current      Loan   `json:"current_borrow_data"`
}

// Loan is one borrow record. Empty strings mean "not set".
type Loan struct {
	UserID              string `json:"user_id"`
	DateBorrowed        string `json:"date_borrowed"`
	DateReturned        string `json:"date_returned"`
	DateRequestedReturn string `json:"date_requested_return"`
}

type Member struct {
	Username      string        `json:"username"`
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	Email         string        `json:"email"`
	PasswordHash  string        `json:"password_hash,omitempty"`
	Salt          string        `json:"salt,omitempty"`
	Librarian     bool          `json:"librarian,omitempty"`
	Balance       int           `json:"balance"`
	Borrowed      []string      `json:"borrowed"`
	Requested     []string      `json:"requested"`
	Reserved      []string      `json:"reserved"`
	BorrowHistory []BorrowEntry `json:"borrow_history"`
	Transactions  []Transaction `json:"transactions"`
	FineHistory   []int         `json:"fine_history"`
}

type BorrowEntry struct {
	CopyRef      string `json:"copy_ref"`
	DateBorrowed string `json:"date_borrowed"`
	DateReturned string `json:"date_returned"`
}

type Transaction struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Date   string `json:"date"`
	Amount int    `json:"amount"`
}

// FormatTimestamp renders t as dd-MM-yyyy HH:mm:ss. The zero time renders
// as the empty string.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimestampLayout)
}

// ParseTimestamp is the inverse of FormatTimestamp. An empty string yields
// the zero time and no error.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders the date part of t as dd-MM-yyyy.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(DateLayout)
}

// ParseDate accepts dd-MM-yyyy and dd/MM/yyyy. A full timestamp is also
// accepted and truncated to its date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{DateLayout, slashDateLayout} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	if t, err := ParseTimestamp(s); err == nil {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local), nil
	}
	return time.Time{}, fmt.Errorf("parse date %q: unrecognised format", s)
}

func Marshal(lib *Library) ([]byte, error) {
	return json.Marshal(lib)
}

func Unmarshal(data []byte) (*Library, error) {
	var lib Library
	if err := json.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &lib, nil
}

// Encode writes lib as indented JSON.
func Encode(w io.Writer, lib *Library) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(lib)
}

func Decode(r io.Reader) (*Library, error) {
	var lib Library
	if err := json.NewDecoder(r).Decode(&lib); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &lib, nil
}
