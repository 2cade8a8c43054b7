package domain

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MarketSnapshot is a single immutable rate/price/liquidity observation for
// one token on one venue at one point in time. Snapshots are produced by an
// external market data collaborator and are append-only; the analyzer never
// mutates them.
//
// Optional fields use decimal.NullDecimal because absence and zero are
// different things here: a zero rate is a legal observation (rates may even
// be negative), while a missing one must cause the affected combination to
// be skipped rather than defaulted.
type MarketSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Venue     string    `json:"venue"`
	Token     TokenID   `json:"token"`
	// Symbol is display metadata only.
	Symbol string `json:"symbol,omitempty"`

	LendRate                 decimal.NullDecimal `json:"lend_rate"`
	BorrowRate               decimal.NullDecimal `json:"borrow_rate"`
	CollateralRatio          decimal.NullDecimal `json:"collateral_ratio"`
	LiquidationThreshold     decimal.NullDecimal `json:"liquidation_threshold"`
	Price                    decimal.NullDecimal `json:"price"`
	AvailableBorrowLiquidity decimal.NullDecimal `json:"available_borrow_liquidity"`
	BorrowFee                decimal.NullDecimal `json:"borrow_fee"`
	BorrowWeight             decimal.NullDecimal `json:"borrow_weight"`
}

// SnapshotKey uniquely identifies a snapshot record.
type SnapshotKey struct {
	Timestamp time.Time
	Venue     string
	Token     TokenID
}

// Key returns the unique identity of the snapshot.
func (s MarketSnapshot) Key() SnapshotKey {
	return SnapshotKey{Timestamp: s.Timestamp, Venue: s.Venue, Token: s.Token}
}

// Validate checks the structural invariants of a snapshot record.
func (s MarketSnapshot) Validate() error {
	if s.Timestamp.IsZero() {
		return errors.New("snapshot timestamp is required")
	}
	if s.Venue == "" {
		return errors.New("snapshot venue is required")
	}
	if (s.Token == TokenID{}) {
		return errors.New("snapshot token address is required")
	}
	if s.CollateralRatio.Valid && s.LiquidationThreshold.Valid &&
		!s.LiquidationThreshold.Decimal.GreaterThan(s.CollateralRatio.Decimal) {
		return errors.Errorf("liquidation threshold %s must exceed collateral ratio %s for %s on %s",
			s.LiquidationThreshold.Decimal.String(), s.CollateralRatio.Decimal.String(), s.Token.Hex(), s.Venue)
	}
	return nil
}

// Cell identifies a (venue, token) market cell inside a snapshot window.
type Cell struct {
	Venue string
	Token TokenID
}

// SnapshotWindow is a read-only, time-ordered view over a set of market
// snapshots. It is safe for concurrent readers; nothing mutates it after
// construction.
type SnapshotWindow struct {
	series map[Cell][]MarketSnapshot
	venues []string
	stamps []time.Time
}

// NewSnapshotWindow builds a window from the given snapshots. Records are
// copied and sorted per cell by timestamp; records violating snapshot
// invariants are rejected.
func NewSnapshotWindow(snapshots []MarketSnapshot) (*SnapshotWindow, error) {
	w := &SnapshotWindow{series: make(map[Cell][]MarketSnapshot)}

	venueSet := make(map[string]struct{})
	stampSet := make(map[time.Time]struct{})
	for _, s := range snapshots {
		if err := s.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid snapshot in window")
		}
		cell := Cell{Venue: s.Venue, Token: s.Token}
		w.series[cell] = append(w.series[cell], s)
		venueSet[s.Venue] = struct{}{}
		stampSet[s.Timestamp] = struct{}{}
	}

	for cell := range w.series {
		sort.Slice(w.series[cell], func(i, j int) bool {
			return w.series[cell][i].Timestamp.Before(w.series[cell][j].Timestamp)
		})
	}
	for v := range venueSet {
		w.venues = append(w.venues, v)
	}
	sort.Strings(w.venues)
	for ts := range stampSet {
		w.stamps = append(w.stamps, ts)
	}
	sort.Slice(w.stamps, func(i, j int) bool { return w.stamps[i].Before(w.stamps[j]) })

	return w, nil
}

// Venues lists the distinct venues observed in the window, sorted.
func (w *SnapshotWindow) Venues() []string {
	return w.venues
}

// Timestamps lists the distinct observation timestamps, ascending.
func (w *SnapshotWindow) Timestamps() []time.Time {
	return w.stamps
}

// Latest returns the most recent observation timestamp in the window.
func (w *SnapshotWindow) Latest() (time.Time, bool) {
	if len(w.stamps) == 0 {
		return time.Time{}, false
	}
	return w.stamps[len(w.stamps)-1], true
}

// At returns the snapshot observed at exactly ts for the given cell.
// There is deliberately no "latest before" fallback here: a combination
// with no observation at the evaluation timestamp is incomplete.
func (w *SnapshotWindow) At(ts time.Time, venue string, token TokenID) (MarketSnapshot, bool) {
	series := w.series[Cell{Venue: venue, Token: token}]
	i := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(ts) })
	if i < len(series) && series[i].Timestamp.Equal(ts) {
		return series[i], true
	}
	return MarketSnapshot{}, false
}

// Series returns the time-ordered observations for a cell.
func (w *SnapshotWindow) Series(venue string, token TokenID) []MarketSnapshot {
	return w.series[Cell{Venue: venue, Token: token}]
}

// Between returns the cell's observations in the half-open interval
// (after, upTo].
func (w *SnapshotWindow) Between(venue string, token TokenID, after, upTo time.Time) []MarketSnapshot {
	series := w.series[Cell{Venue: venue, Token: token}]
	out := make([]MarketSnapshot, 0, len(series))
	for _, s := range series {
		if s.Timestamp.After(after) && !s.Timestamp.After(upTo) {
			out = append(out, s)
		}
	}
	return out
}

// ObservationCount reports how many observations the window holds for a
// cell. The allocator uses it as the confidence measure for a leg.
func (w *SnapshotWindow) ObservationCount(venue string, token TokenID) int {
	return len(w.series[Cell{Venue: venue, Token: token}])
}
