package events

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Snapshots remembers the latest payload published to each round so that a
// freshly connected observer does not start from a blank screen.
type Snapshots struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// NewSnapshots creates a cache bounded by maxCostBytes of payload data.
// Entries expire after ttl; zero keeps them until evicted by cost.
func NewSnapshots(maxCostBytes int64, ttl time.Duration) (*Snapshots, error) {
	if maxCostBytes <= 0 {
		return nil, fmt.Errorf("snapshot cache size must be positive")
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/100*10, 100),
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &Snapshots{c: c, ttl: ttl}, nil
}

func (s *Snapshots) Latest(round string) ([]byte, bool) {
	return s.c.Get(round)
}

// Store replaces the snapshot for round. It waits for the write to be
// applied so Latest observes it immediately.
func (s *Snapshots) Store(round string, payload []byte) {
	s.c.SetWithTTL(round, payload, int64(len(payload)), s.ttl)
	s.c.Wait()
}

func (s *Snapshots) Close() {
	s.c.Close()
}

// SnapshotSink records every payload in Snapshots before passing it on.
type SnapshotSink struct {
	next  Sink
	snaps *Snapshots
}

func NewSnapshotSink(next Sink, snaps *Snapshots) *SnapshotSink {
	return &SnapshotSink{next: next, snaps: snaps}
}

func (s *SnapshotSink) Publish(topic string, payload []byte) error {
	s.snaps.Store(topic, payload)
	return s.next.Publish(topic, payload)
}
