package positions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/loopfolio/loopfolio/internal/domain"
)

const (
	DefaultDir   = "./wal/positions"
	segmentLimit = 100
	maxSegments  = 10

	positionKeyPrefix = "position_"
	segmentKeyPrefix  = "segment_"
)

// WALStore persists position entry records and their rebalance segments in
// a WAL. Positions are re-written on status transitions (last write wins on
// recovery); rebalance segments are append-only and never revised.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed position store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "position_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init position WAL")
	}

	return &WALStore{wal: wal}, nil
}

// SavePosition writes the position record to WAL. Saving an existing ID
// records a status transition.
func (s *WALStore) SavePosition(p *domain.Position) error {
	if s == nil || s.wal == nil {
		return errors.New("position store is not initialized")
	}
	if p == nil || p.ID == "" {
		return errors.New("position id is required")
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal position")
	}

	key := fmt.Sprintf("%s%s", positionKeyPrefix, p.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// SaveSegment appends a finalized rebalance segment.
func (s *WALStore) SaveSegment(seg domain.RebalanceSegment) error {
	if s == nil || s.wal == nil {
		return errors.New("position store is not initialized")
	}
	if seg.PositionID == "" {
		return errors.New("segment position id is required")
	}
	if seg.Seq <= 0 {
		return errors.New("segment sequence must be positive")
	}

	payload, err := json.Marshal(seg)
	if err != nil {
		return errors.Wrap(err, "marshal rebalance segment")
	}

	key := fmt.Sprintf("%s%s_%d", segmentKeyPrefix, seg.PositionID, seg.Seq)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// Positions replays the WAL and returns every stored position, latest
// write per ID winning, ordered by entry time then ID.
func (s *WALStore) Positions() ([]*domain.Position, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("position store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[string]*domain.Position)
	for idx := uint64(1); idx <= s.wal.CurrentIndex(); idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, positionKeyPrefix) {
			continue
		}

		var p domain.Position
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrap(err, "decode position")
		}
		byID[p.ID] = &p
	}

	out := make([]*domain.Position, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Active returns the stored positions still open.
func (s *WALStore) Active() ([]*domain.Position, error) {
	all, err := s.Positions()
	if err != nil {
		return nil, err
	}
	active := make([]*domain.Position, 0, len(all))
	for _, p := range all {
		if p.Status == domain.PositionActive {
			active = append(active, p)
		}
	}
	return active, nil
}

// SegmentsFor returns the position's rebalance segments ordered by sequence.
func (s *WALStore) SegmentsFor(positionID string) ([]domain.RebalanceSegment, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("position store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := fmt.Sprintf("%s%s_", segmentKeyPrefix, positionID)
	var segments []domain.RebalanceSegment
	for idx := uint64(1); idx <= s.wal.CurrentIndex(); idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		var seg domain.RebalanceSegment
		if err := json.Unmarshal(payload, &seg); err != nil {
			return nil, errors.Wrap(err, "decode rebalance segment")
		}
		segments = append(segments, seg)
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].Seq < segments[j].Seq })
	return segments, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("position store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
