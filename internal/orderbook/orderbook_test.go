package orderbook

import (
	"testing"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func snap(ts time.Time, bids, asks []models.BookLevel) models.OrderBookSnapshot {
	return models.OrderBookSnapshot{Timestamp: ts, Bids: bids, Asks: asks}
}

func TestAnalyzeEmptyHistory(t *testing.T) {
	a := New(0, 0, 0)
	require.Equal(t, Metrics{}, a.Analyze())
}

func TestBookImbalanceAndDirection(t *testing.T) {
	a := New(time.Minute, 10, 10)
	base := time.Now().UTC()
	a.Ingest(snap(base, []models.BookLevel{{Price: 99, Size: 100}}, []models.BookLevel{{Price: 101, Size: 20}}))

	m := a.Analyze()
	require.Greater(t, m.BookImbalance, 0.0)
	require.Equal(t, ImbalanceBuyPressure, m.Direction)
}

func TestPruneOldSnapshots(t *testing.T) {
	a := New(10*time.Second, 10, 10)
	base := time.Now().UTC()
	a.Ingest(snap(base, nil, nil))
	a.Ingest(snap(base.Add(20*time.Second), []models.BookLevel{{Price: 100, Size: 1}}, nil))

	a.mu.RLock()
	n := len(a.history)
	a.mu.RUnlock()
	require.Equal(t, 1, n)
}

func TestWallDetection(t *testing.T) {
	a := New(time.Minute, 10, 5)
	base := time.Now().UTC()
	a.Ingest(snap(base, []models.BookLevel{{Price: 99, Size: 10}, {Price: 98, Size: 11}}, []models.BookLevel{{Price: 101, Size: 100}}))

	m := a.Analyze()
	require.NotEmpty(t, m.Walls)
	require.Equal(t, BookSideAsk, m.Walls[0].Side)
}

func TestSpreadQuality(t *testing.T) {
	require.Equal(t, "TIGHT", classifySpread(0.0001))
	require.Equal(t, "NORMAL", classifySpread(0.001))
	require.Equal(t, "WIDE", classifySpread(0.01))
}

func TestSustainedEnergyClamped(t *testing.T) {
	a := New(time.Minute, 10, 10)
	energy, bucket := a.sustainedEnergy(1.0, 1.0, 0, 1.0)
	require.LessOrEqual(t, energy, 1.0)
	require.Equal(t, "VERY_HIGH", bucket)
}
