// Package liquidation maintains a time-ordered, bounded history of forced
// liquidation prints and derives cascade, energy, spike, and trend metrics
// from it.
package liquidation

import (
	"sort"
	"sync"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

// Tracker is the single-writer, many-reader liquidation event log.
type Tracker struct {
	mu               sync.RWMutex
	events           []models.LiquidationEvent // ascending by Timestamp
	retention        time.Duration
	cascadeThreshold int
}

// New creates a Tracker. retention is raised to 24h when shorter (the
// spec's minimum); cascadeThreshold defaults to 10 events/minute.
func New(retention time.Duration, cascadeThreshold int) *Tracker {
	if retention < 24*time.Hour {
		retention = 24 * time.Hour
	}
	if cascadeThreshold <= 0 {
		cascadeThreshold = 10
	}
	return &Tracker{retention: retention, cascadeThreshold: cascadeThreshold}
}

// Record appends a liquidation event and prunes anything older than the
// retention window, relative to the newest event's timestamp.
func (t *Tracker) Record(ev models.LiquidationEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
	cutoff := ev.Timestamp.Add(-t.retention)
	i := 0
	for i < len(t.events) && t.events[i].Timestamp.Before(cutoff) {
		i++
	}
	t.events = t.events[i:]
}

// GetLiquidations returns every event with tFrom <= Timestamp <= tTo, found
// via binary search over the ascending-ordered log.
func (t *Tracker) GetLiquidations(tFrom, tTo time.Time) []models.LiquidationEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lo := sort.Search(len(t.events), func(i int) bool { return !t.events[i].Timestamp.Before(tFrom) })
	hi := sort.Search(len(t.events), func(i int) bool { return t.events[i].Timestamp.After(tTo) })
	if lo >= hi {
		return nil
	}
	out := make([]models.LiquidationEvent, hi-lo)
	copy(out, t.events[lo:hi])
	return out
}

// Stats is the rolling summary over the last 1h/4h/24h.
type Stats struct {
	Now              time.Time
	Total1h          float64
	Total4h          float64
	Total24h         float64
	LongShare1h      float64 // fraction of 1h notional from BUY-side (short squeeze) liquidations
	ShortShare1h     float64
	Largest          *models.LiquidationEvent
	CascadeActive    bool
	EnergyScore      float64
	EnergyBucket     string
}

// Stats computes the rolling window summary as of now.
func (t *Tracker) Stats(now time.Time) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total1h, total4h, total24h, buy1h, sell1h float64
	var largest *models.LiquidationEvent
	count1m := 0

	for i := range t.events {
		ev := t.events[i]
		age := now.Sub(ev.Timestamp)
		if age <= time.Hour {
			total1h += ev.Value
			if ev.Side == models.LiquidationBuy {
				buy1h += ev.Value
			} else {
				sell1h += ev.Value
			}
		}
		if age <= 4*time.Hour {
			total4h += ev.Value
		}
		if age <= 24*time.Hour {
			total24h += ev.Value
		}
		if age <= time.Minute {
			count1m++
		}
		if largest == nil || ev.Value > largest.Value {
			e := ev
			largest = &e
		}
	}

	cascade := count1m >= t.cascadeThreshold

	longShare, shortShare := 0.0, 0.0
	if total1h > 0 {
		longShare = buy1h / total1h
		shortShare = sell1h / total1h
	}

	energy, bucket := t.energyScore(now, total1h, count1m, longShare, shortShare, cascade)

	return Stats{
		Now: now, Total1h: total1h, Total4h: total4h, Total24h: total24h,
		LongShare1h: longShare, ShortShare1h: shortShare, Largest: largest,
		CascadeActive: cascade, EnergyScore: energy, EnergyBucket: bucket,
	}
}

// energyScore composes a [0,1] score from 40% value, 30% frequency, 30%
// imbalance, with a bonus when a cascade is active, given the lock is
// already held.
func (t *Tracker) energyScore(now time.Time, total1h float64, count1m int, longShare, shortShare float64, cascade bool) (float64, string) {
	valueTerm := clamp01(total1h / 5_000_000) // $5M/hr treated as saturating
	freqTerm := clamp01(float64(count1m) / float64(t.cascadeThreshold))
	imbalanceTerm := absFloat(longShare - shortShare)

	energy := 0.4*valueTerm + 0.3*freqTerm + 0.3*imbalanceTerm
	if cascade {
		energy += 0.5
	}
	energy = clamp01(energy)

	var bucket string
	switch {
	case energy >= 0.85:
		bucket = "EXTREME"
	case energy >= 0.65:
		bucket = "HIGH"
	case energy >= 0.45:
		bucket = "MEDIUM"
	case energy >= 0.2:
		bucket = "LOW"
	default:
		bucket = "VERY_LOW"
	}
	return energy, bucket
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// SpikeAnalysis summarizes the early share of liquidation volume.
type SpikeAnalysis struct {
	EarlyShare float64 // share of the window's value that printed in the first 2 minutes
	Level      string  // HIGH/MEDIUM/LOW
}

// AnalyzeSpike reports how front-loaded a window's liquidation volume was:
// the share of total value that printed within the first 2 minutes.
func AnalyzeSpike(events []models.LiquidationEvent) SpikeAnalysis {
	if len(events) == 0 {
		return SpikeAnalysis{Level: "LOW"}
	}
	start := events[0].Timestamp
	var total, early float64
	for _, ev := range events {
		total += ev.Value
		if ev.Timestamp.Sub(start) <= 2*time.Minute {
			early += ev.Value
		}
	}
	share := 0.0
	if total > 0 {
		share = early / total
	}

	level := "LOW"
	switch {
	case share > 0.7:
		level = "HIGH"
	case share > 0.5:
		level = "MEDIUM"
	}
	return SpikeAnalysis{EarlyShare: share, Level: level}
}

// TrendBucket is one 5-minute notional-value bucket.
type TrendBucket struct {
	Start time.Time
	Value float64
}

// TrendAnalysis reports the direction of liquidation volume across
// 5-minute buckets of a window.
type TrendAnalysis struct {
	Buckets   []TrendBucket
	Direction string // INCREASING/STABLE/DECREASING
}

// AnalyzeTrend buckets events into 5-minute windows starting at the first
// event and classifies the overall direction by comparing the second half
// of buckets' total to the first half's.
func AnalyzeTrend(events []models.LiquidationEvent) TrendAnalysis {
	if len(events) == 0 {
		return TrendAnalysis{Direction: "STABLE"}
	}
	start := events[0].Timestamp
	bucketed := make(map[int]float64)
	maxIdx := 0
	for _, ev := range events {
		idx := int(ev.Timestamp.Sub(start) / (5 * time.Minute))
		bucketed[idx] += ev.Value
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	buckets := make([]TrendBucket, maxIdx+1)
	for i := 0; i <= maxIdx; i++ {
		buckets[i] = TrendBucket{Start: start.Add(time.Duration(i) * 5 * time.Minute), Value: bucketed[i]}
	}

	if len(buckets) < 2 {
		return TrendAnalysis{Buckets: buckets, Direction: "STABLE"}
	}

	mid := len(buckets) / 2
	var firstHalf, secondHalf float64
	for i, b := range buckets {
		if i < mid {
			firstHalf += b.Value
		} else {
			secondHalf += b.Value
		}
	}

	direction := "STABLE"
	switch {
	case firstHalf == 0 && secondHalf > 0:
		direction = "INCREASING"
	case firstHalf > 0 && secondHalf > firstHalf*1.2:
		direction = "INCREASING"
	case firstHalf > 0 && secondHalf < firstHalf*0.8:
		direction = "DECREASING"
	}

	return TrendAnalysis{Buckets: buckets, Direction: direction}
}
