package snapshots

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/loopfolio/loopfolio/internal/domain"
)

const (
	DefaultDir   = "./wal/snapshots"
	segmentLimit = 1000
	maxSegments  = 20

	snapshotKeyPrefix = "snapshot_"
)

// WALStore persists the append-only market snapshot history. Snapshots are
// never revised; the analyzer reads them back as a time window.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed snapshot store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "snapshot_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init snapshot WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends one observation. Structurally invalid snapshots are rejected
// before they can poison the history.
func (s *WALStore) Save(snapshot domain.MarketSnapshot) error {
	if s == nil || s.wal == nil {
		return errors.New("snapshot store is not initialized")
	}
	if err := snapshot.Validate(); err != nil {
		return errors.Wrap(err, "invalid snapshot")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	key := fmt.Sprintf("%s%s_%s_%d",
		snapshotKeyPrefix, snapshot.Venue, strings.ToLower(snapshot.Token.Hex()), snapshot.Timestamp.UnixNano())

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// SaveBatch appends a batch of observations, stopping at the first failure.
func (s *WALStore) SaveBatch(snapshots []domain.MarketSnapshot) error {
	for _, snapshot := range snapshots {
		if err := s.Save(snapshot); err != nil {
			return err
		}
	}
	return nil
}

// All replays the full stored history.
func (s *WALStore) All() ([]domain.MarketSnapshot, error) {
	return s.Since(time.Time{})
}

// Since replays the stored snapshots observed at or after the given time.
func (s *WALStore) Since(from time.Time) ([]domain.MarketSnapshot, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("snapshot store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.MarketSnapshot
	for idx := uint64(1); idx <= s.wal.CurrentIndex(); idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, snapshotKeyPrefix) {
			continue
		}

		var snapshot domain.MarketSnapshot
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return nil, errors.Wrap(err, "decode snapshot")
		}
		if snapshot.Timestamp.Before(from) {
			continue
		}
		out = append(out, snapshot)
	}
	return out, nil
}

// Window builds a read-only snapshot window over the history from the given
// time onward.
func (s *WALStore) Window(from time.Time) (*domain.SnapshotWindow, error) {
	history, err := s.Since(from)
	if err != nil {
		return nil, err
	}
	return domain.NewSnapshotWindow(history)
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
		return errors.New("snapshot store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
