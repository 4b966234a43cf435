// internal/circulation/fine.go
package circulation

import (
	"time"

	"github.com/shopspring/decimal"

	"libracore/internal/catalog"
)

// CalculateFine charges for a copy returned at now against a due date.
// Any lateness counts as at least one day. The charge is capped by the
// policy and rounded half away from zero. Nothing is owed on time.
func CalculateFine(now, due time.Time, policy catalog.FinePolicy) (fine, daysLate int) {
	if due.IsZero() || !now.After(due) {
		return 0, 0
	}
	daysLate = int(now.Sub(due) / day)
	if daysLate == 0 {
		daysLate = 1
	}
	amount := policy.DailyRate.Mul(decimal.NewFromInt(int64(daysLate)))
	if amount.GreaterThan(policy.MaxFine) {
		amount = policy.MaxFine
	}
	return int(amount.Round(0).IntPart()), daysLate
}
