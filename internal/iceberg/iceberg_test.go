package iceberg

import (
	"testing"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDetectNoSignalsWithoutHistory(t *testing.T) {
	d := New(SideBid, Config{})
	result := d.Detect()
	require.Equal(t, "VERY_LOW", result.Confidence)
	require.Equal(t, 0.0, result.CompositeScore)
}

func TestRefillingPatternNeedsThreeLevels(t *testing.T) {
	d := New(SideBid, Config{RefillingMinOccurrences: 3, RefillingMaxSize: 10, RefillingMinLevels: 3})
	base := time.Now().UTC()
	// Three distinct bid levels, each refilled with a small size across
	// every snapshot.
	for i := 0; i < 4; i++ {
		d.Observe(models.OrderBookSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Bids: []models.BookLevel{
				{Price: 100, Size: 2},
				{Price: 99, Size: 3},
				{Price: 98, Size: 1.5},
			},
		})
	}
	result := d.Detect()
	var found bool
	for _, s := range result.Signals {
		if s.Name == "refilling_pattern" {
			found = s.Detected
		}
	}
	require.True(t, found)
}

func TestRefillingPatternNotDetectedBelowThreeLevels(t *testing.T) {
	d := New(SideBid, Config{RefillingMinOccurrences: 3, RefillingMaxSize: 10, RefillingMinLevels: 3})
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		d.Observe(models.OrderBookSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Bids: []models.BookLevel{
				{Price: 100, Size: 2},
				{Price: 99, Size: 3},
			},
		})
	}
	result := d.Detect()
	for _, s := range result.Signals {
		if s.Name == "refilling_pattern" {
			require.False(t, s.Detected)
		}
	}
}

func TestVolumeAnomalyDetected(t *testing.T) {
	d := New(SideAsk, Config{VolumeAnomalyRatio: 2.0})
	base := time.Now().UTC()
	d.Observe(models.OrderBookSnapshot{
		Timestamp: base,
		Asks:      []models.BookLevel{{Price: 100, Size: 5}},
	})
	for i := 0; i < 5; i++ {
		d.RecordTrade(Trade{Timestamp: base.Add(time.Duration(i) * time.Second), Price: 100, Size: 3})
	}

	result := d.Detect()
	var found bool
	for _, s := range result.Signals {
		if s.Name == "volume_anomaly" {
			found = s.Detected
		}
	}
	require.True(t, found)
}

func TestVolumeAnomalyIgnoresStaleTrades(t *testing.T) {
	d := New(SideAsk, Config{VolumeAnomalyRatio: 2.0})
	base := time.Now().UTC()
	d.Observe(models.OrderBookSnapshot{
		Timestamp: base,
		Asks:      []models.BookLevel{{Price: 100, Size: 5}},
	})
	d.RecordTrade(Trade{Timestamp: base.Add(-10 * time.Minute), Price: 100, Size: 50})

	result := d.Detect()
	for _, s := range result.Signals {
		if s.Name == "volume_anomaly" {
			require.False(t, s.Detected)
		}
	}
}

func TestConsistentSizeReadsCurrentAsks(t *testing.T) {
	d := New(SideBid, Config{ConsistentSizeMinOccurs: 4})
	asks := make([]models.BookLevel, 0, 6)
	for i := 0; i < 6; i++ {
		asks = append(asks, models.BookLevel{Price: 100 + float64(i), Size: 2.5})
	}
	d.Observe(models.OrderBookSnapshot{Timestamp: time.Now().UTC(), Asks: asks})

	result := d.Detect()
	var found bool
	for _, s := range result.Signals {
		if s.Name == "consistent_size" {
			found = s.Detected
		}
	}
	require.True(t, found)
}

func TestDepthRegenerationRequiresTwoSequences(t *testing.T) {
	d := New(SideBid, Config{RegenMinDropPct: 0.2, RegenMinRecoveryPct: 0.15, RegenMinSequences: 2})
	base := time.Now().UTC()
	// depth history: 100 -> 70 (drop) -> 90 (recover) -> 60 (drop) -> 85 (recover)
	depths := []float64{100, 70, 90, 60, 85}
	for i, depth := range depths {
		d.Observe(models.OrderBookSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Bids:      []models.BookLevel{{Price: 100, Size: depth}},
		})
	}
	result := d.Detect()
	var found bool
	for _, s := range result.Signals {
		if s.Name == "depth_regeneration" {
			found = s.Detected
		}
	}
	require.True(t, found)
}

func TestDepthRegenerationNotDetectedWithOneSequence(t *testing.T) {
	d := New(SideBid, Config{RegenMinDropPct: 0.2, RegenMinRecoveryPct: 0.15, RegenMinSequences: 2})
	base := time.Now().UTC()
	depths := []float64{100, 70, 90}
	for i, depth := range depths {
		d.Observe(models.OrderBookSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Bids:      []models.BookLevel{{Price: 100, Size: depth}},
		})
	}
	result := d.Detect()
	for _, s := range result.Signals {
		if s.Name == "depth_regeneration" {
			require.False(t, s.Detected)
		}
	}
}

func TestCompositeScoreClamped(t *testing.T) {
	d := New(SideBid, Config{RefillingMinOccurrences: 2, RefillingMaxSize: 10, RefillingMinLevels: 3, ConsistentSizeMinOccurs: 3})
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		d.Observe(models.OrderBookSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Bids: []models.BookLevel{
				{Price: 100, Size: 2}, {Price: 99, Size: 3}, {Price: 98, Size: 1.5},
			},
		})
	}
	result := d.Detect()
	require.GreaterOrEqual(t, result.CompositeScore, 0.0)
	require.LessOrEqual(t, result.CompositeScore, 1.0)
}

func TestConfidenceBuckets(t *testing.T) {
	require.Equal(t, "VERY_HIGH", confidenceOf(0.9))
	require.Equal(t, "HIGH", confidenceOf(0.6))
	require.Equal(t, "MEDIUM", confidenceOf(0.4))
	require.Equal(t, "LOW", confidenceOf(0.2))
	require.Equal(t, "VERY_LOW", confidenceOf(0.1))
}
