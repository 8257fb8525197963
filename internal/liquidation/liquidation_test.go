package liquidation

import (
	"testing"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func ev(ts time.Time, side models.LiquidationSide, value float64) models.LiquidationEvent {
	return models.LiquidationEvent{Timestamp: ts, Side: side, Value: value, Price: 100, Quantity: value / 100}
}

func TestRecordPrunesOutsideRetention(t *testing.T) {
	tr := New(24*time.Hour, 10)
	base := time.Now().UTC()
	tr.Record(ev(base.Add(-48*time.Hour), models.LiquidationBuy, 1000))
	tr.Record(ev(base, models.LiquidationBuy, 2000))

	all := tr.GetLiquidations(base.Add(-72*time.Hour), base.Add(time.Hour))
	require.Len(t, all, 1)
}

func TestGetLiquidationsRange(t *testing.T) {
	tr := New(24*time.Hour, 10)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		tr.Record(ev(base.Add(time.Duration(i)*time.Minute), models.LiquidationBuy, 100))
	}
	out := tr.GetLiquidations(base.Add(1*time.Minute), base.Add(3*time.Minute))
	require.Len(t, out, 3)
}

func TestCascadeDetection(t *testing.T) {
	tr := New(24*time.Hour, 3)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		tr.Record(ev(base.Add(time.Duration(i)*time.Second), models.LiquidationSell, 1000))
	}
	stats := tr.Stats(base.Add(5 * time.Second))
	require.True(t, stats.CascadeActive)
}

func TestStatsLargestAndShares(t *testing.T) {
	tr := New(24*time.Hour, 10)
	base := time.Now().UTC()
	tr.Record(ev(base, models.LiquidationBuy, 100))
	tr.Record(ev(base.Add(time.Second), models.LiquidationSell, 900))

	stats := tr.Stats(base.Add(2 * time.Second))
	require.Equal(t, 900.0, stats.Largest.Value)
	require.InDelta(t, 0.1, stats.LongShare1h, 0.001)
	require.InDelta(t, 0.9, stats.ShortShare1h, 0.001)
}

func TestAnalyzeSpikeHighShare(t *testing.T) {
	base := time.Now().UTC()
	events := []models.LiquidationEvent{
		ev(base, models.LiquidationBuy, 800),
		ev(base.Add(time.Minute), models.LiquidationBuy, 100),
		ev(base.Add(10*time.Minute), models.LiquidationBuy, 100),
	}
	spike := AnalyzeSpike(events)
	require.Equal(t, "HIGH", spike.Level)
}

func TestAnalyzeTrendIncreasing(t *testing.T) {
	base := time.Now().UTC()
	events := []models.LiquidationEvent{
		ev(base, models.LiquidationBuy, 10),
		ev(base.Add(6*time.Minute), models.LiquidationBuy, 10),
		ev(base.Add(12*time.Minute), models.LiquidationBuy, 1000),
		ev(base.Add(18*time.Minute), models.LiquidationBuy, 1000),
	}
	trend := AnalyzeTrend(events)
	require.Equal(t, "INCREASING", trend.Direction)
}

func TestAnalyzeTrendEmpty(t *testing.T) {
	trend := AnalyzeTrend(nil)
	require.Equal(t, "STABLE", trend.Direction)
}
