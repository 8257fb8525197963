// Package sink defines the persistence boundary the engine writes derived
// records to. Persistence itself is out of scope for this engine; the
// in-memory implementation here exists for tests and as a reference
// collaborator, not a production store.
package sink

import (
	"context"
	"sync"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

// Sink is the contract every snapshot/anomaly/regime-change consumer must
// satisfy. Implementations external to this engine (a database, a message
// bus, a file writer) are expected to wrap a real backend behind this
// interface.
type Sink interface {
	WriteSnapshot(ctx context.Context, snap models.MarketSnapshot) error
	WriteAnomalies(ctx context.Context, anomalies []models.Anomaly) error
	WriteRegimeChange(ctx context.Context, from, to models.RegimeLabel) error
}

// InMemorySink is a bounded in-memory reference Sink used by tests and by
// the engine when no external sink is configured.
type InMemorySink struct {
	mu            sync.RWMutex
	snapshots     []models.MarketSnapshot
	anomalies     []models.Anomaly
	regimeChanges []RegimeChange
	maxSnapshots  int
}

// RegimeChange records a single observed regime transition.
type RegimeChange struct {
	From models.RegimeLabel
	To   models.RegimeLabel
}

// NewInMemorySink creates a Sink that retains up to maxSnapshots snapshots
// (default 1000) and unbounded anomaly/regime-change logs (both naturally
// small per tick).
func NewInMemorySink(maxSnapshots int) *InMemorySink {
	if maxSnapshots <= 0 {
		maxSnapshots = 1000
	}
	return &InMemorySink{maxSnapshots: maxSnapshots}
}

var _ Sink = (*InMemorySink)(nil)

// WriteSnapshot appends snap, trimming the oldest entry once maxSnapshots
// is exceeded.
func (s *InMemorySink) WriteSnapshot(_ context.Context, snap models.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > s.maxSnapshots {
		s.snapshots = s.snapshots[len(s.snapshots)-s.maxSnapshots:]
	}
	return nil
}

// WriteAnomalies appends anomalies to the log.
func (s *InMemorySink) WriteAnomalies(_ context.Context, anomalies []models.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, anomalies...)
	return nil
}

// WriteRegimeChange appends a regime transition to the log.
func (s *InMemorySink) WriteRegimeChange(_ context.Context, from, to models.RegimeLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regimeChanges = append(s.regimeChanges, RegimeChange{From: from, To: to})
	return nil
}

// Snapshots returns a copy of the retained snapshot log.
func (s *InMemorySink) Snapshots() []models.MarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MarketSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Anomalies returns a copy of the retained anomaly log.
func (s *InMemorySink) Anomalies() []models.Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Anomaly, len(s.anomalies))
	copy(out, s.anomalies)
	return out
}

// RegimeChanges returns a copy of the retained regime-change log.
func (s *InMemorySink) RegimeChanges() []RegimeChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RegimeChange, len(s.regimeChanges))
	copy(out, s.regimeChanges)
	return out
}
