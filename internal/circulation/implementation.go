// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"libracore/internal/catalog"
	"libracore/internal/membership"
	"libracore/internal/notify"
	"libracore/internal/snapshot"
)

// DefaultBorrowLimit is the weighted number of copies a member may hold.
const DefaultBorrowLimit = 5

const (
	sourceLibrary = "Library"
	sourcePayment = "Payment"
)

// service implements the Service interface.
type service struct {
	mu        sync.RWMutex
	resources map[string]*Resource

	memberLocks sync.Map // username -> *sync.Mutex

	// barrier is held shared by every change to resources or members and
	// exclusively by Snapshot and Restore. Take it before any member lock.
	barrier sync.RWMutex

	members  Members
	notifier notify.Notifier
	journal  Journal
	logger   *slog.Logger
	clock    Clock
	limit    int

	tracer  trace.Tracer
	loans   metric.Int64Counter
	returns metric.Int64Counter
	fines   metric.Int64Counter
}

type Option func(*service)

func WithClock(c Clock) Option {
	return func(s *service) { s.clock = c }
}

func WithBorrowLimit(n int) Option {
	return func(s *service) { s.limit = n }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *service) { s.notifier = n }
}

func WithJournal(j Journal) Option {
	return func(s *service) { s.journal = j }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// NewService creates a new circulation service instance.
func NewService(members Members, opts ...Option) Service {
	s := &service{
		resources: make(map[string]*Resource),
		members:   members,
		notifier:  notify.Discard{},
		journal:   NewMemoryJournal(),
		logger:    slog.Default(),
		clock:     time.Now,
		limit:     DefaultBorrowLimit,
		tracer:    otel.Tracer("libracore/circulation"),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("libracore/circulation")
	s.loans = s.counter(meter, "circulation.loans", "Copies lent out")
	s.returns = s.counter(meter, "circulation.returns", "Copies brought back")
	s.fines = s.counter(meter, "circulation.fines.amount", "Total fines charged")
	return s
}

func (s *service) counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		s.logger.Warn("metric disabled", slog.String("metric", name), slog.Any("error", err))
		return noop.Int64Counter{}
	}
	return c
}

func (s *service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// hold keeps Snapshot and Restore out until the returned func is called.
func (s *service) hold() func() {
	s.barrier.RLock()
	return s.barrier.RUnlock
}

// lockMember serialises operations on one member so limit checks and list
// updates can't interleave.
func (s *service) lockMember(user string) func() {
	v, _ := s.memberLocks.LoadOrStore(user, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *service) resource(id string) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, id)
	}
	return r, nil
}

func (s *service) member(ctx context.Context, user string) (membership.Member, error) {
	m, err := s.members.GetMember(ctx, user)
	if err != nil {
		return membership.Member{}, memberErr(err)
	}
	return m, nil
}

// memberErr maps membership failures onto the circulation sentinels.
func memberErr(err error) error {
	switch {
	case errors.Is(err, membership.ErrMemberNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, membership.ErrInvalidAmount), errors.Is(err, membership.ErrInvalidMember):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	default:
		return err
	}
}

// AddResource registers a new catalog entry with one copy per loan duration.
func (s *service) AddResource(ctx context.Context, entry catalog.Entry, loanDurations ...int) (ResourceView, error) {
	ctx, span := s.start(ctx, "circulation.add_resource", attribute.String("resource.kind", string(entry.Kind)))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	now := s.clock()
	entry.Title = strings.TrimSpace(entry.Title)
	if entry.Title == "" {
		err = fmt.Errorf("%w: title is required", ErrInvalidArgument)
		return ResourceView{}, err
	}
	kind, kerr := catalog.ParseKind(string(entry.Kind))
	if kerr != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidArgument, kerr)
		return ResourceView{}, err
	}
	entry.Kind = kind
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.DateAdded.IsZero() {
		y, m, d := now.Date()
		entry.DateAdded = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}

	res, err := NewResource(entry, loanDurations...)
	if err != nil {
		return ResourceView{}, err
	}

	s.mu.Lock()
	if _, exists := s.resources[entry.ID]; exists {
		s.mu.Unlock()
		err = fmt.Errorf("%w: resource %s already exists", ErrPolicyViolation, entry.ID)
		return ResourceView{}, err
	}
	s.resources[entry.ID] = res
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "resource added",
		slog.String("resource", entry.ID), slog.String("kind", string(kind)), slog.Int("copies", len(loanDurations)))
	return res.View(now), nil
}

func (s *service) GetResource(ctx context.Context, id string) (ResourceView, error) {
	res, err := s.resource(id)
	if err != nil {
		return ResourceView{}, err
	}
	return res.View(s.clock()), nil
}

// ListResources returns every resource ordered by ID.
func (s *service) ListResources(ctx context.Context) ([]ResourceView, error) {
	now := s.clock()
	out := make([]ResourceView, 0)
	for _, res := range s.sortedResources() {
		out = append(out, res.View(now))
	}
	return out, nil
}

// SearchResources returns the resources whose entry matches q, ordered by ID.
func (s *service) SearchResources(ctx context.Context, q catalog.Query) ([]ResourceView, error) {
	now := s.clock()
	out := make([]ResourceView, 0)
	for _, res := range s.sortedResources() {
		if !q.Matches(res.Entry()) {
			continue
		}
		out = append(out, res.View(now))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// RemoveResource withdraws an idle resource from the catalog.
func (s *service) RemoveResource(ctx context.Context, id string) error {
	ctx, span := s.start(ctx, "circulation.remove_resource", attribute.String("resource.id", id))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[id]
	if !ok {
		err = fmt.Errorf("%w: resource %s", ErrNotFound, id)
		return err
	}
	if err = res.Retire(); err != nil {
		return err
	}
	delete(s.resources, id)
	s.logger.InfoContext(ctx, "resource removed", slog.String("resource", id))
	return nil
}

func (s *service) sortedResources() []*Resource {
	s.mu.RLock()
	ids := make([]string, 0, len(s.resources))
	for id := range s.resources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*Resource, len(ids))
	for i, id := range ids {
		out[i] = s.resources[id]
	}
	s.mu.RUnlock()
	return out
}

func (s *service) EditResource(ctx context.Context, id, title, year string, attrs map[string]string) (ResourceView, error) {
	defer s.hold()()

	res, err := s.resource(id)
	if err != nil {
		return ResourceView{}, err
	}
	res.Edit(title, year, attrs)
	return res.View(s.clock()), nil
}

// AddCopy adds a copy to a resource. If someone is waiting, it is held for
// them straight away.
func (s *service) AddCopy(ctx context.Context, resourceID string, loanDuration int) (CopyRef, error) {
	ctx, span := s.start(ctx, "circulation.add_copy", attribute.String("resource.id", resourceID))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	res, err := s.resource(resourceID)
	if err != nil {
		return CopyRef{}, err
	}
	copyID, reservations, err := res.AddCopy(loanDuration)
	if err != nil {
		return CopyRef{}, err
	}
	s.record(ctx, resourceID, s.announce(ctx, resourceID, reservations)...)
	return CopyRef{ResourceID: resourceID, CopyID: copyID}, nil
}

func (s *service) RemoveCopy(ctx context.Context, ref CopyRef) error {
	ctx, span := s.start(ctx, "circulation.remove_copy", attribute.String("copy.ref", ref.String()))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	res, err := s.resource(ref.ResourceID)
	if err != nil {
		return err
	}
	if err = res.RemoveCopy(ref.CopyID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "copy removed", slog.String("copy", ref.String()))
	return nil
}

// borrowLoad is the weighted count of what user currently holds.
func (s *service) borrowLoad(m membership.Member) int {
	load := 0
	for _, raw := range m.Borrowed {
		kind := catalog.KindBook
		if ref, err := ParseCopyRef(raw); err == nil {
			if res, err := s.resource(ref.ResourceID); err == nil {
				kind = res.Kind()
			}
		}
		load += kind.BorrowWeight()
	}
	return load
}

// LoanResource lends a copy to user. The aggregate is updated first; if the
// member side then fails, the aggregate change is undone.
func (s *service) LoanResource(ctx context.Context, user string, ref CopyRef) (Loan, error) {
	ctx, span := s.start(ctx, "circulation.loan",
		attribute.String("member.username", user), attribute.String("copy.ref", ref.String()))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	now := s.clock()
	unlock := s.lockMember(user)
	defer unlock()

	m, err := s.member(ctx, user)
	if err != nil {
		return Loan{}, err
	}
	res, err := s.resource(ref.ResourceID)
	if err != nil {
		return Loan{}, err
	}
	load, weight := s.borrowLoad(m), res.Kind().BorrowWeight()
	if load+weight > s.limit {
		err = fmt.Errorf("%w: %s holds %d of %d, a %s counts %d", ErrPolicyViolation, user, load, s.limit, res.Kind(), weight)
		return Loan{}, err
	}

	out, undo, err := res.LoanResource(ref.CopyID, user, now)
	if err != nil {
		return Loan{}, err
	}

	if err = s.members.AddToBorrowed(ctx, user, ref.String(), now); err != nil {
		s.logger.WarnContext(ctx, "compensating failed loan: restoring copy state",
			slog.String("copy", ref.String()), slog.String("username", user), slog.Any("error", err))
		rb := undo()
		if rb.HoldLost {
			s.requeueMember(ctx, user, res)
		}
		s.record(ctx, ref.ResourceID, s.announce(ctx, ref.ResourceID, rb.Reservations)...)
		err = fmt.Errorf("record loan for %s: %w", user, memberErr(err))
		return Loan{}, err
	}

	events := []Event{{Type: EventCopyLoaned, Data: CopyLoanedEvent{Ref: ref.String(), Username: user, DateBorrowed: now}}}
	events = append(events, s.announce(ctx, ref.ResourceID, out.Reservations)...)
	s.record(ctx, ref.ResourceID, events...)
	s.loans.Add(ctx, 1, metric.WithAttributes(attribute.String("resource.kind", string(res.Kind()))))

	s.logger.InfoContext(ctx, "copy loaned", slog.String("copy", ref.String()), slog.String("username", user))
	return out.Loan, nil
}

// requeueMember turns a member's stale hold on res back into a plain
// request, or drops it when they are no longer waiting.
func (s *service) requeueMember(ctx context.Context, user string, res *Resource) {
	if err := s.members.RemoveRequest(ctx, user, res.ID()); err != nil {
		s.logger.ErrorContext(ctx, "dropping lost hold", slog.String("resource", res.ID()),
			slog.String("username", user), slog.Any("error", err))
		return
	}
	if res.QueuePosition(user) == 0 {
		return
	}
	if err := s.members.AddToRequested(ctx, user, res.ID()); err != nil {
		s.logger.ErrorContext(ctx, "requeueing member after lost hold", slog.String("resource", res.ID()),
			slog.String("username", user), slog.Any("error", err))
	}
}

// ReturnResource takes a copy back from user. An overdue copy is charged
// before it is returned. The freed copy goes to the next in line.
func (s *service) ReturnResource(ctx context.Context, user string, ref CopyRef) (ReturnReceipt, error) {
	ctx, span := s.start(ctx, "circulation.return",
		attribute.String("member.username", user), attribute.String("copy.ref", ref.String()))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	now := s.clock()
	unlock := s.lockMember(user)
	defer unlock()

	m, err := s.member(ctx, user)
	if err != nil {
		return ReturnReceipt{}, err
	}
	if !m.HasBorrowed(ref.String()) {
		err = fmt.Errorf("%w: %s has not borrowed %s", ErrPolicyViolation, user, ref)
		return ReturnReceipt{}, err
	}
	res, err := s.resource(ref.ResourceID)
	if err != nil {
		return ReturnReceipt{}, err
	}

	receipt := ReturnReceipt{Ref: ref}
	due, overdue, err := res.OverdueSince(ref.CopyID, now)
	if err != nil {
		return ReturnReceipt{}, err
	}
	if overdue {
		receipt.Fine, receipt.DaysLate = CalculateFine(now, due, res.Kind().FinePolicy())
		if receipt.Fine > 0 {
			if err = s.charge(ctx, user, receipt.Fine, now); err != nil {
				return ReturnReceipt{}, err
			}
		}
	}

	out, err := res.ReturnResource(ref.CopyID, user, now)
	if err != nil {
		if receipt.Fine > 0 {
			s.logger.WarnContext(ctx, "compensating failed return: refunding fine",
				slog.String("copy", ref.String()), slog.String("username", user), slog.Int("fine", receipt.Fine))
			s.refund(ctx, user, receipt.Fine, now, true)
		}
		return ReturnReceipt{}, err
	}
	if rerr := s.members.RemoveFromBorrowed(ctx, user, ref.String(), now); rerr != nil {
		s.logger.ErrorContext(ctx, "copy returned but member record not updated",
			slog.String("copy", ref.String()), slog.String("username", user), slog.Any("error", rerr))
	}

	events := []Event{{Type: EventCopyReturned, Data: CopyReturnedEvent{Ref: ref.String(), Username: user, DateReturned: now}}}
	if receipt.Fine > 0 {
		events = append(events, Event{Type: EventFineApplied, Data: FineAppliedEvent{
			Ref: ref.String(), Username: user, Amount: receipt.Fine, DaysLate: receipt.DaysLate,
		}})
	}
	if out.Reservation != nil {
		receipt.Reservation = out.Reservation
		events = append(events, s.announce(ctx, ref.ResourceID, []Reservation{*out.Reservation})...)
	}
	s.record(ctx, ref.ResourceID, events...)
	s.returns.Add(ctx, 1, metric.WithAttributes(attribute.String("resource.kind", string(res.Kind()))))

	s.logger.InfoContext(ctx, "copy returned",
		slog.String("copy", ref.String()), slog.String("username", user), slog.Int("fine", receipt.Fine))
	return receipt, nil
}

// charge adds a fine to user's balance and logs the transaction.
func (s *service) charge(ctx context.Context, user string, amount int, now time.Time) error {
	if err := s.members.AddAccountBalance(ctx, user, amount); err != nil {
		return fmt.Errorf("charge fine to %s: %w", user, memberErr(err))
	}
	if err := s.members.AddTransaction(ctx, user, sourceLibrary, amount, now); err != nil {
		s.logger.WarnContext(ctx, "compensating failed fine: reverting balance",
			slog.String("username", user), slog.Int("fine", amount), slog.Any("error", err))
		s.refund(ctx, user, amount, now, false)
		return fmt.Errorf("log fine for %s: %w", user, memberErr(err))
	}
	s.fines.Add(ctx, int64(amount))
	return nil
}

// refund takes back a fine charged earlier in a failed operation. When the
// charge was already logged, a reversing transaction is logged too.
func (s *service) refund(ctx context.Context, user string, amount int, now time.Time, logged bool) {
	if err := s.members.RefundFine(ctx, user, amount); err != nil {
		s.logger.ErrorContext(ctx, "failed to refund fine", slog.String("username", user), slog.Any("error", err))
		return
	}
	if !logged {
		return
	}
	if err := s.members.AddTransaction(ctx, user, sourceLibrary, -amount, now); err != nil {
		s.logger.ErrorContext(ctx, "fine refunded but not logged", slog.String("username", user), slog.Any("error", err))
	}
}

// RequestResource queues user for a resource. A free copy is held for them
// at once; otherwise the borrower of the copy due back soonest is asked to
// return it.
func (s *service) RequestResource(ctx context.Context, user, resourceID string) (RequestReceipt, error) {
	ctx, span := s.start(ctx, "circulation.request",
		attribute.String("member.username", user), attribute.String("resource.id", resourceID))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	now := s.clock()
	unlock := s.lockMember(user)
	defer unlock()

	m, err := s.member(ctx, user)
	if err != nil {
		return RequestReceipt{}, err
	}
	res, err := s.resource(resourceID)
	if err != nil {
		return RequestReceipt{}, err
	}
	if reason := alreadyHolds(m, resourceID); reason != "" || res.QueuePosition(user) > 0 {
		if reason == "" {
			reason = "is already queued for"
		}
		err = fmt.Errorf("%w: %s %s %s", ErrPolicyViolation, user, reason, resourceID)
		return RequestReceipt{}, err
	}

	if err = s.members.AddToRequested(ctx, user, resourceID); err != nil {
		err = memberErr(err)
		return RequestReceipt{}, err
	}

	pos, reservations := res.AddUserToRequestQueue(user)
	if pos == 0 {
		// Retired between lookup and enqueue.
		if rerr := s.members.RemoveRequest(ctx, user, resourceID); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to drop request for removed resource",
				slog.String("resource", resourceID), slog.String("username", user), slog.Any("error", rerr))
		}
		err = fmt.Errorf("%w: resource %s", ErrNotFound, resourceID)
		return RequestReceipt{}, err
	}
	receipt := RequestReceipt{ResourceID: resourceID, QueuePosition: pos}
	for i := range reservations {
		if reservations[i].User == user {
			r := reservations[i]
			receipt.Reservation = &r
		}
	}
	events := s.announce(ctx, resourceID, reservations)

	if receipt.Reservation == nil {
		if rr, ok := res.RequestEarliestReturn(now); ok {
			receipt.ReturnRequest = &rr
			ref := CopyRef{ResourceID: resourceID, CopyID: rr.CopyID}
			s.notifyReturnDue(ctx, res.Entry(), ref, rr)
			events = append(events, Event{Type: EventReturnRequested, Data: ReturnRequestedEvent{
				Ref: ref.String(), Borrower: rr.Borrower, DueDate: rr.DueDate,
			}})
		}
	}
	s.record(ctx, resourceID, events...)

	s.logger.InfoContext(ctx, "resource requested",
		slog.String("resource", resourceID), slog.String("username", user), slog.Int("position", pos))
	return receipt, nil
}

// alreadyHolds describes why m may not request resourceID, or "".
func alreadyHolds(m membership.Member, resourceID string) string {
	if m.HasRequested(resourceID) {
		return "has already requested"
	}
	for _, raw := range m.Reserved {
		if ref, err := ParseCopyRef(raw); err == nil && ref.ResourceID == resourceID {
			return "already has a copy reserved of"
		}
	}
	for _, raw := range m.Borrowed {
		if ref, err := ParseCopyRef(raw); err == nil && ref.ResourceID == resourceID {
			return "is already borrowing"
		}
	}
	return ""
}

func (s *service) notifyReturnDue(ctx context.Context, entry catalog.Entry, ref CopyRef, rr ReturnRequest) {
	borrower, err := s.members.GetMember(ctx, rr.Borrower)
	if err != nil {
		s.logger.WarnContext(ctx, "return requested from unknown borrower",
			slog.String("copy", ref.String()), slog.String("borrower", rr.Borrower), slog.Any("error", err))
		return
	}
	n := notify.ReturnDue{
		Recipient: borrower.Email,
		Name:      borrower.FullName(),
		Title:     entry.Title,
		CopyRef:   ref.String(),
		DueDate:   rr.DueDate,
	}
	if err := s.notifier.NotifyReturnDue(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "return notice not sent",
			slog.String("copy", ref.String()), slog.String("borrower", rr.Borrower), slog.Any("error", err))
	}
}

// CancelRequest takes user out of the queue for resourceID and releases any
// copy held for them.
func (s *service) CancelRequest(ctx context.Context, user, resourceID string) error {
	ctx, span := s.start(ctx, "circulation.cancel_request",
		attribute.String("member.username", user), attribute.String("resource.id", resourceID))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	unlock := s.lockMember(user)
	defer unlock()

	m, err := s.member(ctx, user)
	if err != nil {
		return err
	}
	res, err := s.resource(resourceID)
	if err != nil {
		return err
	}
	found, reservations := res.CancelRequest(user)
	if !found && !m.HasRequested(resourceID) {
		err = fmt.Errorf("%w: %s has no request for %s", ErrNotFound, user, resourceID)
		return err
	}
	if rerr := s.members.RemoveRequest(ctx, user, resourceID); rerr != nil {
		err = memberErr(rerr)
		return err
	}

	events := []Event{{Type: EventRequestCanceled, Data: RequestCanceledEvent{ResourceID: resourceID, Username: user}}}
	events = append(events, s.announce(ctx, resourceID, reservations)...)
	s.record(ctx, resourceID, events...)
	return nil
}

// announce tells each reserved member about their hold and returns the
// matching journal events.
func (s *service) announce(ctx context.Context, resourceID string, reservations []Reservation) []Event {
	events := make([]Event, 0, len(reservations))
	for _, r := range reservations {
		ref := CopyRef{ResourceID: resourceID, CopyID: r.CopyID}
		if err := s.members.MoveToReserved(ctx, r.User, resourceID, ref.String()); err != nil {
			s.logger.WarnContext(ctx, "reservation not recorded on member",
				slog.String("copy", ref.String()), slog.String("username", r.User), slog.Any("error", err))
		}
		events = append(events, Event{Type: EventCopyReserved, Data: CopyReservedEvent{Ref: ref.String(), Username: r.User}})
	}
	return events
}

// record writes events to the journal. Journal failures never fail the
// operation that produced them.
func (s *service) record(ctx context.Context, resourceID string, events ...Event) {
	if len(events) == 0 {
		return
	}
	if err := s.journal.Record(ctx, resourceID, events...); err != nil {
		s.logger.ErrorContext(ctx, "journal write failed",
			slog.String("resource", resourceID), slog.Int("events", len(events)), slog.Any("error", err))
	}
}

// ResourceHistory is the journal of a resource still in the catalog.
func (s *service) ResourceHistory(ctx context.Context, id string) ([]Event, error) {
	if _, err := s.resource(id); err != nil {
		return nil, err
	}
	events, err := s.journal.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", id, err)
	}
	return events, nil
}

// CheckForOverdue lists the copies user holds past their requested return date.
func (s *service) CheckForOverdue(ctx context.Context, user string) ([]CopyRef, error) {
	m, err := s.member(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.overdue(m, s.clock()), nil
}

func (s *service) overdue(m membership.Member, now time.Time) []CopyRef {
	var out []CopyRef
	for _, raw := range m.Borrowed {
		ref, err := ParseCopyRef(raw)
		if err != nil {
			s.logger.Warn("malformed borrowed reference", slog.String("username", m.Username), slog.String("ref", raw))
			continue
		}
		res, err := s.resource(ref.ResourceID)
		if err != nil {
			continue
		}
		if late, err := res.CheckIfOverdue(ref.CopyID, now); err == nil && late {
			out = append(out, ref)
		}
	}
	return out
}

// FindAllOverdue scans every member's loans.
func (s *service) FindAllOverdue(ctx context.Context) ([]CopyRef, error) {
	ctx, span := s.start(ctx, "circulation.find_all_overdue")
	var err error
	defer func() { finish(span, err) }()

	now := s.clock()
	all, err := s.members.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CopyRef, 0)
	for _, m := range all {
		out = append(out, s.overdue(m, now)...)
	}
	span.SetAttributes(attribute.Int("overdue.count", len(out)))
	return out, nil
}

// PayFine settles part or all of user's balance.
func (s *service) PayFine(ctx context.Context, user string, amount int) (membership.Member, error) {
	ctx, span := s.start(ctx, "circulation.pay_fine",
		attribute.String("member.username", user), attribute.Int("amount", amount))
	var err error
	defer func() { finish(span, err) }()
	defer s.hold()()

	now := s.clock()
	unlock := s.lockMember(user)
	defer unlock()

	if amount <= 0 {
		err = fmt.Errorf("%w: payment must be positive, got %d", ErrInvalidArgument, amount)
		return membership.Member{}, err
	}
	m, err := s.member(ctx, user)
	if err != nil {
		return membership.Member{}, err
	}
	if amount > m.Balance {
		err = fmt.Errorf("%w: payment of %d exceeds balance of %d", ErrInvalidArgument, amount, m.Balance)
		return membership.Member{}, err
	}
	if err = s.members.SubtractAccountBalance(ctx, user, amount); err != nil {
		err = memberErr(err)
		return membership.Member{}, err
	}
	if terr := s.members.AddTransaction(ctx, user, sourcePayment, -amount, now); terr != nil {
		s.logger.WarnContext(ctx, "payment taken but not logged", slog.String("username", user), slog.Any("error", terr))
	}
	return s.member(ctx, user)
}

// Snapshot exports resources and members as one library save.
func (s *service) Snapshot(ctx context.Context) (*snapshot.Library, error) {
	s.barrier.Lock()
	defer s.barrier.Unlock()

	lib := &snapshot.Library{TakenAt: snapshot.FormatTimestamp(s.clock())}
	for _, res := range s.sortedResources() {
		lib.Resources = append(lib.Resources, exportResource(res))
	}
	lib.Members = s.members.Snapshot(ctx)
	return lib, nil
}

// Restore replaces all state with lib. Nothing changes if lib is invalid.
func (s *service) Restore(ctx context.Context, lib *snapshot.Library) error {
	if lib == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidArgument)
	}
	resources := make(map[string]*Resource, len(lib.Resources))
	pending := make(map[string][]Reservation)
	for _, sr := range lib.Resources {
		res, reservations, err := importResource(sr, s.logger)
		if err != nil {
			return err
		}
		if _, dup := resources[sr.ID]; dup {
			return fmt.Errorf("%w: resource %s appears twice in snapshot", ErrInvalidArgument, sr.ID)
		}
		resources[sr.ID] = res
		if len(reservations) > 0 {
			pending[sr.ID] = reservations
		}
	}
	s.barrier.Lock()
	defer s.barrier.Unlock()
	if err := s.members.Restore(ctx, lib.Members); err != nil {
		return memberErr(err)
	}

	s.mu.Lock()
	s.resources = resources
	s.mu.Unlock()

	for id, reservations := range pending {
		s.record(ctx, id, s.announce(ctx, id, reservations)...)
	}

	s.logger.InfoContext(ctx, "library restored",
		slog.Int("resources", len(resources)), slog.Int("members", len(lib.Members)))
	return nil
}
