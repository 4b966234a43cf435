// internal/circulation/snapshot.go
package circulation

import (
	"fmt"
	"log/slog"
	"time"

	"libracore/internal/catalog"
	"libracore/internal/snapshot"
)

func exportResource(res *Resource) snapshot.Resource {
	entry, copies, queue, next := res.export()
	out := snapshot.Resource{
		ID:         entry.ID,
		Kind:       string(entry.Kind),
		Title:      entry.Title,
		Year:       entry.Year,
		Thumbnail:  entry.Thumbnail,
		DateAdded:  snapshot.FormatDate(entry.DateAdded),
		Attributes: entry.Attributes,
		NextCopyID: next,
		Copies:     make([]snapshot.Copy, len(copies)),
		Queue:      queue,
	}
	for i, c := range copies {
		sc := snapshot.Copy{
			ID:           c.ID,
			LoanDuration: c.LoanDuration,
			Removed:      c.Removed,
			ReservedFor:  c.ReservedFor,
			History:      make([]snapshot.Loan, len(c.History)),
			Current:      exportLoan(c.Current),
		}
		for j, l := range c.History {
			sc.History[j] = exportLoan(l)
		}
		out.Copies[i] = sc
	}
	return out
}

func exportLoan(l Loan) snapshot.Loan {
	return snapshot.Loan{
		UserID:              l.BorrowerID,
		DateBorrowed:        snapshot.FormatTimestamp(l.DateBorrowed),
		DateReturned:        snapshot.FormatTimestamp(l.DateReturned),
		DateRequestedReturn: snapshot.FormatTimestamp(l.DateRequestedReturn),
	}
}

// importResource rebuilds an aggregate. Structural problems are errors;
// unreadable dates are logged and left unset. Any holds placed while
// settling the restored queue are returned for the caller to announce.
func importResource(sr snapshot.Resource, logger *slog.Logger) (*Resource, []Reservation, error) {
	if sr.ID == "" {
		return nil, nil, fmt.Errorf("%w: snapshot resource without id", ErrInvalidArgument)
	}
	kind, err := catalog.ParseKind(sr.Kind)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: resource %s: %w", ErrInvalidArgument, sr.ID, err)
	}
	p := parser{logger: logger.With(slog.String("resource", sr.ID))}

	entry := catalog.Entry{
		ID:         sr.ID,
		Kind:       kind,
		Title:      sr.Title,
		Year:       sr.Year,
		Thumbnail:  sr.Thumbnail,
		DateAdded:  p.date("date_added", sr.DateAdded),
		Attributes: sr.Attributes,
	}
	entry = entry.Clone()

	copies := make([]CopyRecord, 0, len(sr.Copies))
	seen := make(map[string]bool, len(sr.Copies))
	for i, sc := range sr.Copies {
		id := sc.ID
		if id == "" {
			// Older saves identify copies by position.
			id = fmt.Sprint(i)
		}
		if seen[id] {
			return nil, nil, fmt.Errorf("%w: resource %s has copy %s twice", ErrInvalidArgument, sr.ID, id)
		}
		seen[id] = true
		if sc.LoanDuration <= 0 {
			return nil, nil, fmt.Errorf("%w: resource %s copy %s has loan duration %d", ErrInvalidArgument, sr.ID, id, sc.LoanDuration)
		}
		c := CopyRecord{
			ID:           id,
			LoanDuration: sc.LoanDuration,
			Removed:      sc.Removed,
			Current:      p.loan(id, sc.Current),
			History:      make([]Loan, 0, len(sc.History)),
		}
		// A held copy is by definition not on loan.
		if !c.Current.Active() {
			c.ReservedFor = sc.ReservedFor
		}
		for _, l := range sc.History {
			c.History = append(c.History, p.loan(id, l))
		}
		copies = append(copies, c)
	}

	res := restoreResource(entry, copies, sr.Queue, sr.NextCopyID)
	// Saves taken between a return and its hold would leave a free copy
	// while people wait.
	return res, res.CheckReservations(), nil
}

type parser struct {
	logger *slog.Logger
}

func (p parser) loan(copyID string, l snapshot.Loan) Loan {
	return Loan{
		BorrowerID:          l.UserID,
		DateBorrowed:        p.timestamp(copyID, "date_borrowed", l.DateBorrowed),
		DateReturned:        p.timestamp(copyID, "date_returned", l.DateReturned),
		DateRequestedReturn: p.timestamp(copyID, "date_requested_return", l.DateRequestedReturn),
	}
}

func (p parser) timestamp(copyID, field, value string) time.Time {
	t, err := snapshot.ParseTimestamp(value)
	if err != nil {
		p.logger.Warn("snapshot timestamp unreadable, leaving unset",
			slog.String("copy", copyID), slog.String("field", field), slog.Any("error", err))
		return time.Time{}
	}
	return t
}

func (p parser) date(field, value string) time.Time {
	t, err := snapshot.ParseDate(value)
	if err != nil {
		p.logger.Warn("snapshot date unreadable, leaving unset", slog.String("field", field), slog.Any("error", err))
		return time.Time{}
	}
	return t
}
