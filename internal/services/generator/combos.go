package generator

import (
	"time"

	"github.com/loopfolio/loopfolio/internal/domain"
	"github.com/loopfolio/loopfolio/internal/services/sizing"
)

// cellRole describes which snapshot fields a leg needs before a combination
// can be sized.
type cellRole int

const (
	// roleLend needs a lend rate, a price and supply liquidity.
	roleLend cellRole = iota
	// roleCollateral additionally needs the venue's collateral parameters.
	roleCollateral
	// roleBorrow needs a borrow rate, a price and borrow liquidity.
	roleBorrow
	// rolePerp needs a funding rate (carried in the borrow-rate field),
	// a price and open-interest capacity.
	rolePerp
)

// resolveCell loads the snapshot for a cell at the evaluation timestamp and
// checks presence of the fields the role requires. It returns
// domain.ErrDataIncomplete when anything is absent: the combination is
// skipped, never surfaced as a call-level failure.
func resolveCell(window *domain.SnapshotWindow, at time.Time, venue string, token domain.Token, role cellRole) (sizing.LegMarket, error) {
	snap, ok := window.At(at, venue, token.Address)
	if !ok {
		return sizing.LegMarket{}, domain.ErrDataIncomplete
	}
	if !snap.Price.Valid || !snap.AvailableBorrowLiquidity.Valid {
		return sizing.LegMarket{}, domain.ErrDataIncomplete
	}

	m := sizing.LegMarket{
		Venue:              venue,
		Token:              token.Address,
		Symbol:             displaySymbol(snap, token),
		Price:              snap.Price.Decimal,
		AvailableLiquidity: snap.AvailableBorrowLiquidity.Decimal,
	}
	if snap.BorrowFee.Valid {
		m.BorrowFee = snap.BorrowFee.Decimal
	}
	if snap.BorrowWeight.Valid {
		m.BorrowWeight = snap.BorrowWeight.Decimal
	}

	switch role {
	case roleLend, roleCollateral:
		if !snap.LendRate.Valid {
			return sizing.LegMarket{}, domain.ErrDataIncomplete
		}
		m.LendRate = snap.LendRate.Decimal
		if role == roleCollateral {
			if !snap.CollateralRatio.Valid || !snap.LiquidationThreshold.Valid {
				return sizing.LegMarket{}, domain.ErrDataIncomplete
			}
			m.CollateralRatio = snap.CollateralRatio.Decimal
			m.LiquidationThreshold = snap.LiquidationThreshold.Decimal
		}
	case roleBorrow, rolePerp:
		if !snap.BorrowRate.Valid {
			return sizing.LegMarket{}, domain.ErrDataIncomplete
		}
		m.BorrowRate = snap.BorrowRate.Decimal
	}

	return m, nil
}

// displaySymbol prefers the snapshot's venue-reported symbol and falls back
// to the universe metadata. Display only; identity stays the address.
func displaySymbol(snap domain.MarketSnapshot, token domain.Token) string {
	if snap.Symbol != "" {
		return snap.Symbol
	}
	return token.Symbol
}

// enumerate walks every applicable token/venue combination for each
// registered shape. Combinations are produced in a fixed order (shapes
// lexicographic, then venue/token order of the inputs); ties in the final
// ranking are still broken by explicit keys, never by this order.
func (g *Generator) enumerate(window *domain.SnapshotWindow, universe []domain.Token, at time.Time) ([]combo, int) {
	venues := window.Venues()
	var combos []combo
	skipped := 0

	appendCombo := func(shape domain.Shape, params sizing.Params, cells ...domain.Cell) {
		combos = append(combos, combo{shape: shape, params: params, cells: cells})
	}

	for _, shape := range g.registry.Shapes() {
		switch shape {
		case domain.ShapeSingle:
			for _, v := range venues {
				for _, x := range universe {
					lend, err := resolveCell(window, at, v, x, roleLend)
					if err != nil {
						skipped++
						continue
					}
					appendCombo(shape, sizing.Params{CollateralLend: lend},
						domain.Cell{Venue: v, Token: x.Address})
				}
			}

		case domain.ShapeNoLoop:
			g.forVenueTokenPairs(venues, universe, func(vA, vB string, x, y domain.Token) {
				collateralLend, err1 := resolveCell(window, at, vA, x, roleCollateral)
				collateralLoan, err2 := resolveCell(window, at, vA, y, roleBorrow)
				counterLend, err3 := resolveCell(window, at, vB, y, roleLend)
				if err1 != nil || err2 != nil || err3 != nil {
					skipped++
					return
				}
				appendCombo(shape, sizing.Params{
					CollateralLend: collateralLend,
					CollateralLoan: collateralLoan,
					CounterLend:    counterLend,
				},
					domain.Cell{Venue: vA, Token: x.Address},
					domain.Cell{Venue: vA, Token: y.Address},
					domain.Cell{Venue: vB, Token: y.Address})
			})

		case domain.ShapeLooped:
			g.forVenueTokenPairs(venues, universe, func(vA, vB string, x, y domain.Token) {
				collateralLend, err1 := resolveCell(window, at, vA, x, roleCollateral)
				collateralLoan, err2 := resolveCell(window, at, vA, y, roleBorrow)
				counterLend, err3 := resolveCell(window, at, vB, y, roleCollateral)
				counterLoan, err4 := resolveCell(window, at, vB, x, roleBorrow)
				if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
					skipped++
					return
				}
				appendCombo(shape, sizing.Params{
					CollateralLend: collateralLend,
					CollateralLoan: collateralLoan,
					CounterLend:    counterLend,
					CounterLoan:    counterLoan,
				},
					domain.Cell{Venue: vA, Token: x.Address},
					domain.Cell{Venue: vA, Token: y.Address},
					domain.Cell{Venue: vB, Token: y.Address},
					domain.Cell{Venue: vB, Token: x.Address})
			})

		case domain.ShapeHedge:
			for _, vA := range venues {
				for _, vB := range venues {
					if vA == vB {
						continue
					}
					for _, x := range universe {
						lend, err1 := resolveCell(window, at, vA, x, roleLend)
						perp, err2 := resolveCell(window, at, vB, x, rolePerp)
						if err1 != nil || err2 != nil {
							skipped++
							continue
						}
						appendCombo(shape, sizing.Params{CollateralLend: lend, Perp: perp},
							domain.Cell{Venue: vA, Token: x.Address},
							domain.Cell{Venue: vB, Token: x.Address})
					}
				}
			}

		case domain.ShapePerpBorrow:
			g.forVenueTokenPairs(venues, universe, func(vA, vB string, x, y domain.Token) {
				collateralLend, err1 := resolveCell(window, at, vA, x, roleCollateral)
				collateralLoan, err2 := resolveCell(window, at, vA, y, roleBorrow)
				perp, err3 := resolveCell(window, at, vB, y, rolePerp)
				if err1 != nil || err2 != nil || err3 != nil {
					skipped++
					return
				}
				appendCombo(shape, sizing.Params{
					CollateralLend: collateralLend,
					CollateralLoan: collateralLoan,
					Perp:           perp,
				},
					domain.Cell{Venue: vA, Token: x.Address},
					domain.Cell{Venue: vA, Token: y.Address},
					domain.Cell{Venue: vB, Token: y.Address})
			})
		}
	}

	return combos, skipped
}

// forVenueTokenPairs visits every ordered pair of distinct venues and
// distinct tokens.
func (g *Generator) forVenueTokenPairs(venues []string, universe []domain.Token, fn func(vA, vB string, x, y domain.Token)) {
	for _, vA := range venues {
		for _, vB := range venues {
			if vA == vB {
				continue
			}
			for _, x := range universe {
				for _, y := range universe {
					if x.Address == y.Address {
						continue
					}
					fn(vA, vB, x, y)
				}
			}
		}
	}
}
