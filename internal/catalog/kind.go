// internal/catalog/kind.go
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnknownKind = errors.New("unknown resource kind")

// Kind tags a resource with its type. Circulation rules are the same for
// every kind; only the fine policy and the borrow weight differ.
type Kind string

const (
	KindBook      Kind = "book"
	KindDVD       Kind = "dvd"
	KindLaptop    Kind = "laptop"
	KindVideoGame Kind = "videogame"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindBook, KindDVD, KindLaptop, KindVideoGame}

// ParseKind accepts a kind name in any case. "video game" and "video_game"
// are accepted for KindVideoGame.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(norm)
	for _, k := range Kinds {
		if string(k) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// BorrowWeight is how much one copy of this kind counts against a member's
// borrow limit.
func (k Kind) BorrowWeight() int {
	if k == KindLaptop {
		return 3
	}
	return 1
}

// FinePolicy holds the per-kind overdue constants, in whole currency units.
type FinePolicy struct {
	DailyRate decimal.Decimal
	MaxFine   decimal.Decimal
}

var (
	standardFines = FinePolicy{DailyRate: decimal.NewFromInt(2), MaxFine: decimal.NewFromInt(25)}
	laptopFines   = FinePolicy{DailyRate: decimal.NewFromInt(10), MaxFine: decimal.NewFromInt(100)}
)

func (k Kind) FinePolicy() FinePolicy {
	if k == KindLaptop {
		return laptopFines
	}
	return standardFines
}
