// internal/circulation/resource.go
package circulation

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"libracore/internal/catalog"
)

// Resource is the aggregate for one catalog entry: its copies and its
// reservation queue. Every exported method runs as a single critical
// section, so a check followed by a mutation can't interleave with another
// caller's.
//
// Copies live in an arena. IDs are handed out from a counter, never reused,
// and removal only tombstones the slot.
type Resource struct {
	mu         sync.Mutex
	entry      catalog.Entry
	copies     []*CopyRecord
	index      map[string]int
	nextCopyID int
	queue      ReservationQueue
	// retired resources reject every further change.
	retired bool
}

// NewResource creates an aggregate with one copy per loan duration given.
func NewResource(entry catalog.Entry, loanDurations ...int) (*Resource, error) {
	r := &Resource{entry: entry.Clone(), index: make(map[string]int)}
	for _, d := range loanDurations {
		if d <= 0 {
			return nil, fmt.Errorf("%w: loan duration must be positive, got %d", ErrInvalidArgument, d)
		}
		r.appendCopy(d)
	}
	return r, nil
}

func (r *Resource) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry.ID
}

func (r *Resource) Kind() catalog.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry.Kind
}

func (r *Resource) Entry() catalog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry.Clone()
}

func (r *Resource) Edit(title, year string, attrs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry.Edit(title, year, attrs)
}

func (r *Resource) appendCopy(loanDuration int) *CopyRecord {
	c := newCopy(strconv.Itoa(r.nextCopyID), loanDuration)
	r.nextCopyID++
	r.index[c.ID] = len(r.copies)
	r.copies = append(r.copies, c)
	return c
}

// lookup returns the live copy with the given ID.
func (r *Resource) lookup(copyID string) (*CopyRecord, error) {
	i, ok := r.index[copyID]
	if !ok || r.copies[i].Removed || r.retired {
		return nil, fmt.Errorf("%w: copy %s-%s", ErrNotFound, r.entry.ID, copyID)
	}
	return r.copies[i], nil
}

func (r *Resource) live() []*CopyRecord {
	out := make([]*CopyRecord, 0, len(r.copies))
	for _, c := range r.copies {
		if !c.Removed {
			out = append(out, c)
		}
	}
	return out
}

// AddCopy adds a new copy and immediately offers it to the queue.
func (r *Resource) AddCopy(loanDuration int) (string, []Reservation, error) {
	if loanDuration <= 0 {
		return "", nil, fmt.Errorf("%w: loan duration must be positive, got %d", ErrInvalidArgument, loanDuration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return "", nil, fmt.Errorf("%w: resource %s", ErrNotFound, r.entry.ID)
	}
	c := r.appendCopy(loanDuration)
	return c.ID, r.checkReservations(), nil
}

// RemoveCopy withdraws a copy. Copies on loan or held for someone stay.
func (r *Resource) RemoveCopy(copyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(copyID)
	if err != nil {
		return err
	}
	if !c.IsAvailable() {
		return fmt.Errorf("%w: copy %s-%s is %s", ErrPolicyViolation, r.entry.ID, copyID, c.State())
	}
	c.Removed = true
	return nil
}

// Retire marks the resource as withdrawn. Only an idle resource, with
// every copy on the shelf and nobody waiting, can be retired.
func (r *Resource) Retire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return fmt.Errorf("%w: resource %s", ErrNotFound, r.entry.ID)
	}
	if !r.queue.IsEmpty() {
		return fmt.Errorf("%w: %d members are waiting for %s", ErrPolicyViolation, r.queue.Len(), r.entry.ID)
	}
	for _, c := range r.live() {
		if !c.IsAvailable() {
			return fmt.Errorf("%w: copy %s-%s is %s", ErrPolicyViolation, r.entry.ID, c.ID, c.State())
		}
	}
	r.retired = true
	return nil
}

// AddUserToRequestQueue queues user and, when a copy is free right now,
// hands it out straight away instead of waiting for the next return.
// A retired resource queues nobody and reports position 0.
func (r *Resource) AddUserToRequestQueue(user string) (int, []Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return 0, nil
	}
	r.queue.Enqueue(user)
	pos := r.queue.Len()
	if !r.anyAvailable() {
		return pos, nil
	}
	return pos, r.checkReservations()
}

// CheckReservations matches free copies with waiting users.
func (r *Resource) CheckReservations() []Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkReservations()
}

// checkReservations reserves free copies, first in copy order, for the
// earliest queued users that don't already hold one. Nobody is dequeued
// here; that happens when the loan is taken or the request cancelled.
func (r *Resource) checkReservations() []Reservation {
	var made []Reservation
	for _, c := range r.copies {
		if c.Removed || !c.IsAvailable() {
			continue
		}
		user, ok := r.nextInLine()
		if !ok {
			break
		}
		c.Reserve(user)
		made = append(made, Reservation{CopyID: c.ID, User: user})
	}
	return made
}

// nextInLine is the first queued user without a copy already held for them.
func (r *Resource) nextInLine() (string, bool) {
	for _, u := range r.queue.users {
		if !r.holdsReservation(u) {
			return u, true
		}
	}
	return "", false
}

func (r *Resource) holdsReservation(user string) bool {
	for _, c := range r.copies {
		if !c.Removed && c.ReservedFor == user {
			return true
		}
	}
	return false
}

func (r *Resource) anyAvailable() bool {
	for _, c := range r.copies {
		if !c.Removed && c.IsAvailable() {
			return true
		}
	}
	return false
}

// CheckIfAvailable reports whether any copy is free.
func (r *Resource) CheckIfAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anyAvailable()
}

// LoanOutcome is the result of a successful loan.
type LoanOutcome struct {
	Loan Loan
	// Reservations made because the borrower gave up a hold on another copy.
	Reservations []Reservation
}

// LoanRollback is what undoing a loan changed besides the loan itself.
type LoanRollback struct {
	// HoldLost is set when a hold the borrower gave up could not be put
	// back because the copy has moved on since.
	HoldLost bool
	// Reservations made once the loaned copy was free again.
	Reservations []Reservation
}

// LoanResource lends copyID to user. The copy has to be free or held for
// user. The borrower leaves the queue, and a hold they had on a different
// copy is passed on. The returned undo func takes back only what this loan
// changed; callers use it when the member side of the loan fails.
func (r *Resource) LoanResource(copyID, user string, now time.Time) (LoanOutcome, func() LoanRollback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.lookup(copyID)
	if err != nil {
		return LoanOutcome{}, nil, err
	}
	if c.IsOnLoan() {
		return LoanOutcome{}, nil, fmt.Errorf("%w: copy %s-%s is on loan to %s", ErrPolicyViolation, r.entry.ID, copyID, c.Current.BorrowerID)
	}
	if c.IsReserved() && c.ReservedFor != user {
		return LoanOutcome{}, nil, fmt.Errorf("%w: copy %s-%s is reserved for %s", ErrPolicyViolation, r.entry.ID, copyID, c.ReservedFor)
	}

	held := c.ReservedFor == user
	pos := r.queue.Position(user)
	c.Loan(user, now)
	r.queue.Remove(user)
	var released []*CopyRecord
	for _, other := range r.copies {
		if !other.Removed && other.ReservedFor == user {
			other.Unreserve()
			released = append(released, other)
		}
	}

	out := LoanOutcome{Loan: c.Current}
	if len(released) > 0 {
		out.Reservations = r.checkReservations()
	}
	passedOn := make(map[string]string, len(out.Reservations))
	for _, res := range out.Reservations {
		passedOn[res.CopyID] = res.User
	}

	undo := func() LoanRollback {
		r.mu.Lock()
		defer r.mu.Unlock()

		var rb LoanRollback
		if c.Current.BorrowerID == user && c.Current.DateBorrowed.Equal(now) {
			c.Current = Loan{}
			if held {
				c.Reserve(user)
			}
		}
		for _, o := range released {
			switch {
			case o.Removed || o.IsOnLoan():
				rb.HoldLost = true
			case o.ReservedFor == "":
				o.Reserve(user)
			case passedOn[o.ID] == o.ReservedFor:
				// handed on by this loan and never announced
				o.Reserve(user)
			default:
				rb.HoldLost = true
			}
		}
		if pos > 0 && r.queue.Position(user) == 0 {
			r.queue.InsertAt(pos, user)
		}
		rb.Reservations = r.checkReservations()
		return rb
	}
	return out, undo, nil
}

// ReturnOutcome is the result of a return.
type ReturnOutcome struct {
	Loan        Loan
	Reservation *Reservation
}

// ReturnResource takes copyID back from borrower (any borrower when
// borrower is ""). If anyone is waiting, the copy is held for the next
// user in line before the call returns.
func (r *Resource) ReturnResource(copyID, borrower string, now time.Time) (ReturnOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.lookup(copyID)
	if err != nil {
		return ReturnOutcome{}, err
	}
	if !c.IsOnLoan() {
		return ReturnOutcome{}, fmt.Errorf("%w: copy %s-%s is not on loan", ErrPolicyViolation, r.entry.ID, copyID)
	}
	if borrower != "" && c.Current.BorrowerID != borrower {
		return ReturnOutcome{}, fmt.Errorf("%w: copy %s-%s is on loan to %s, not %s", ErrPolicyViolation, r.entry.ID, copyID, c.Current.BorrowerID, borrower)
	}

	out := ReturnOutcome{Loan: c.Return(now)}
	if user, ok := r.nextInLine(); ok {
		c.Reserve(user)
		out.Reservation = &Reservation{CopyID: c.ID, User: user}
	}
	return out, nil
}

// RequestReturn asks the borrower of copyID to bring it back.
func (r *Resource) RequestReturn(copyID string, now time.Time) (ReturnRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(copyID)
	if err != nil {
		return ReturnRequest{}, err
	}
	if !c.IsOnLoan() {
		return ReturnRequest{}, fmt.Errorf("%w: copy %s-%s is not on loan", ErrPolicyViolation, r.entry.ID, copyID)
	}
	due := c.RequestReturn(now)
	return ReturnRequest{CopyID: c.ID, Borrower: c.Current.BorrowerID, DueDate: due}, nil
}

// RequestEarliestReturn requests a return of the loaned copy expected back
// soonest. Copies whose borrower has already been asked are passed over
// while any other loaned copy remains, so each waiting user pulls a
// different copy back. It reports false when nothing is on loan.
func (r *Resource) RequestEarliestReturn(now time.Time) (ReturnRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.earliestReturn(now, func(c *CopyRecord) bool {
		return c.Current.DateRequestedReturn.IsZero()
	})
	if c == nil {
		c = r.earliestReturn(now, nil)
	}
	if c == nil {
		return ReturnRequest{}, false
	}
	due := c.RequestReturn(now)
	return ReturnRequest{CopyID: c.ID, Borrower: c.Current.BorrowerID, DueDate: due}, true
}

// CopyWithEarliestReturn is the loaned copy with the earliest estimated
// return date. Ties go to the copy listed first.
func (r *Resource) CopyWithEarliestReturn(now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.earliestReturn(now, nil)
	if c == nil {
		return "", false
	}
	return c.ID, true
}

func (r *Resource) earliestReturn(now time.Time, keep func(*CopyRecord) bool) *CopyRecord {
	var (
		best    *CopyRecord
		bestEst time.Time
	)
	for _, c := range r.copies {
		if c.Removed || !c.IsOnLoan() || (keep != nil && !keep(c)) {
			continue
		}
		est := c.EstimatedReturnDate(now)
		if best == nil || est.Before(bestEst) {
			best, bestEst = c, est
		}
	}
	return best
}

// CheckIfOverdue is true when a return date has been set for copyID and
// now is past it.
func (r *Resource) CheckIfOverdue(copyID string, now time.Time) (bool, error) {
	_, overdue, err := r.OverdueSince(copyID, now)
	return overdue, err
}

// OverdueSince returns the requested return date of copyID along with
// whether now is past it.
func (r *Resource) OverdueSince(copyID string, now time.Time) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(copyID)
	if err != nil {
		return time.Time{}, false, err
	}
	due := c.Current.DateRequestedReturn
	if !c.IsOnLoan() || due.IsZero() {
		return time.Time{}, false, nil
	}
	return due, now.After(due), nil
}

// CancelRequest removes user from the queue and lets go of any copy held
// for them; that copy goes to whoever is next.
func (r *Resource) CancelRequest(user string) (bool, []Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := r.queue.Remove(user)
	for _, c := range r.copies {
		if !c.Removed && c.ReservedFor == user {
			c.Unreserve()
			found = true
		}
	}
	if !found {
		return false, nil
	}
	return true, r.checkReservations()
}

// Copy returns a detached copy of the record for copyID.
func (r *Resource) Copy(copyID string) (CopyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(copyID)
	if err != nil {
		return CopyRecord{}, err
	}
	return c.clone(), nil
}

// Copies returns detached records of every copy still in circulation.
func (r *Resource) Copies() []CopyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.live()
	out := make([]CopyRecord, len(live))
	for i, c := range live {
		out[i] = c.clone()
	}
	return out
}

func (r *Resource) Queue() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Users()
}

// QueuePosition is user's 1-based place in the queue, 0 if absent.
func (r *Resource) QueuePosition(user string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Position(user)
}

func (r *Resource) View(now time.Time) ResourceView {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.live()
	v := ResourceView{
		Entry:     r.entry.Clone(),
		Copies:    make([]CopyView, len(live)),
		Queue:     r.queue.Users(),
		Available: r.anyAvailable(),
	}
	for i, c := range live {
		v.Copies[i] = c.view(now)
	}
	return v
}

// restoreResource rebuilds an aggregate from saved state. Tombstoned copies
// keep their slot so their IDs stay retired.
func restoreResource(entry catalog.Entry, copies []CopyRecord, queue []string, nextCopyID int) *Resource {
	r := &Resource{entry: entry, index: make(map[string]int, len(copies))}
	for _, c := range copies {
		c := c
		c.History = slices.Clone(c.History)
		r.index[c.ID] = len(r.copies)
		r.copies = append(r.copies, &c)
		if n, err := strconv.Atoi(c.ID); err == nil && n >= nextCopyID {
			nextCopyID = n + 1
		}
	}
	r.nextCopyID = nextCopyID
	r.queue.users = slices.Clone(queue)
	return r
}

// export returns every copy, tombstones included, plus the queue.
func (r *Resource) export() (catalog.Entry, []CopyRecord, []string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copies := make([]CopyRecord, len(r.copies))
	for i, c := range r.copies {
		copies[i] = c.clone()
	}
	return r.entry.Clone(), copies, r.queue.Users(), r.nextCopyID
}
