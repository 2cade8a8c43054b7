package domain

// Shape tags the structural variant of a strategy. Each shape has its own
// sizing implementation registered in the sizing registry, so new shapes
// can be added without touching the generator or the allocator.
type Shape string

const (
	// ShapeSingle is a pure lending position: one lend leg, no borrows.
	ShapeSingle Shape = "single"
	// ShapeNoLoop is a 3-leg carry: lend at A, borrow at A, re-lend at B.
	ShapeNoLoop Shape = "noloop_3leg"
	// ShapeLooped is a recursive 4-leg carry: proceeds borrowed at each
	// venue are re-lent at the other, closing a geometric series.
	ShapeLooped Shape = "looped_4leg"
	// ShapeHedge pairs a spot lend with a perpetual short of the same token.
	ShapeHedge Shape = "perp_hedge"
	// ShapePerpBorrow lends collateral, borrows a second token and hedges
	// the borrowed exposure with a perpetual short.
	ShapePerpBorrow Shape = "perp_borrow"
)

// Valid reports whether the tag names a known shape.
func (s Shape) Valid() bool {
	switch s {
	case ShapeSingle, ShapeNoLoop, ShapeLooped, ShapeHedge, ShapePerpBorrow:
		return true
	}
	return false
}
