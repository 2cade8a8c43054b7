package allocator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/loopfolio/loopfolio/internal/domain"
)

// Ledger tracks remaining borrowable liquidity per venue/token cell while the
// allocator walks the ranked candidate list. Seeding takes the maximum
// liquidity reported across candidates for the same cell, because every
// candidate observes the same market and the numbers differ only when
// snapshots were taken at different instants.
type Ledger struct {
	remaining map[domain.Cell]decimal.Decimal
}

// NewLedger seeds a ledger from the borrow-side legs of the given candidates.
func NewLedger(candidates []domain.Candidate) *Ledger {
	l := &Ledger{remaining: make(map[domain.Cell]decimal.Decimal)}
	for _, c := range candidates {
		for _, leg := range c.Legs {
			if leg.Action == domain.LegLend {
				continue
			}
			cell := domain.Cell{Venue: leg.Venue, Token: leg.Token}
			if cur, ok := l.remaining[cell]; !ok || leg.AvailableLiquidity.GreaterThan(cur) {
				l.remaining[cell] = leg.AvailableLiquidity
			}
		}
	}
	return l
}

// Remaining reports the liquidity left in a cell. Cells the ledger never saw
// report zero.
func (l *Ledger) Remaining(cell domain.Cell) decimal.Decimal {
	return l.remaining[cell]
}

// Debit consumes liquidity from a cell, clamping at zero so rounding noise
// in the caller cannot drive a cell negative.
func (l *Ledger) Debit(cell domain.Cell, amount decimal.Decimal) {
	rem, ok := l.remaining[cell]
	if !ok {
		return
	}
	rem = rem.Sub(amount)
	if rem.IsNegative() {
		rem = decimal.Zero
	}
	l.remaining[cell] = rem
}

// Cells returns the tracked cells in deterministic order.
func (l *Ledger) Cells() []domain.Cell {
	cells := make([]domain.Cell, 0, len(l.remaining))
	for cell := range l.remaining {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Venue != cells[j].Venue {
			return cells[i].Venue < cells[j].Venue
		}
		return cells[i].Token.Hex() < cells[j].Token.Hex()
	})
	return cells
}

// Snapshot copies the current remaining balances for trace reporting.
func (l *Ledger) Snapshot() map[domain.Cell]decimal.Decimal {
	out := make(map[domain.Cell]decimal.Decimal, len(l.remaining))
	for cell, rem := range l.remaining {
		out[cell] = rem
	}
	return out
}
