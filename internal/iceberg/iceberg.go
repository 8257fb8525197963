// Package iceberg detects hidden large orders in the futures order book by
// fusing five independent signals observed over a bounded snapshot/trade
// history on one side of the book: refilling pattern, volume anomaly,
// price rejection, depth regeneration, and consistent resting size.
package iceberg

import (
	"math"
	"sync"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

const (
	maxHistory = 300
	watchDepth = 10 // levels summed for the watched-side depth history
)

// Side identifies which side of the book a Detector watches.
type Side string

// Watched sides.
const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// Trade is a single executed trade print, attributed by the caller to the
// watched side.
type Trade struct {
	Timestamp time.Time
	Price     float64
	Size      float64
}

// Config thresholds the five detection signals; zero fields fall back to
// spec defaults.
type Config struct {
	RefillingMinOccurrences int
	RefillingMinLevels      int
	RefillingMaxSize        float64
	VolumeAnomalyRatio      float64
	RejectionMinCount       int
	RegenMinDropPct         float64
	RegenMinRecoveryPct     float64
	RegenMinSequences       int
	ConsistentSizeMinOccurs int
}

func (c *Config) normalize() {
	if c.RefillingMinOccurrences <= 0 {
		c.RefillingMinOccurrences = 5
	}
	if c.RefillingMinLevels <= 0 {
		c.RefillingMinLevels = 3
	}
	if c.RefillingMaxSize <= 0 {
		c.RefillingMaxSize = 5
	}
	if c.VolumeAnomalyRatio <= 0 {
		c.VolumeAnomalyRatio = 2.0
	}
	if c.RejectionMinCount <= 0 {
		c.RejectionMinCount = 3
	}
	if c.RegenMinDropPct <= 0 {
		c.RegenMinDropPct = 0.20
	}
	if c.RegenMinRecoveryPct <= 0 {
		c.RegenMinRecoveryPct = 0.15
	}
	if c.RegenMinSequences <= 0 {
		c.RegenMinSequences = 2
	}
	if c.ConsistentSizeMinOccurs <= 0 {
		c.ConsistentSizeMinOccurs = 5
	}
}

// Signal is one of the five detection dimensions.
type Signal struct {
	Name     string
	Detected bool
	Score    float64 // [0,1]
}

// Result is the composite iceberg-detection outcome for a watched side.
type Result struct {
	Price               float64
	Signals             []Signal
	CompositeScore      float64 // [0,1]
	Confidence          string  // VERY_LOW/LOW/MEDIUM/HIGH/VERY_HIGH
	EstimatedHiddenSize float64
}

var signalWeights = map[string]float64{
	"refilling_pattern":  0.30,
	"volume_anomaly":     0.25,
	"price_rejection":    0.20,
	"depth_regeneration": 0.15,
	"consistent_size":    0.10,
}

// Detector tracks a bounded history of order-book snapshots and trades on
// one side of the book.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	side      Side
	snapshots []models.OrderBookSnapshot
	trades    []Trade
	midPrices []float64
	depths    []float64
}

// New creates a Detector watching the given side of the book.
func New(side Side, cfg Config) *Detector {
	cfg.normalize()
	return &Detector{side: side, cfg: cfg}
}

// levels returns the watched side's levels for a snapshot.
func (d *Detector) levels(snap models.OrderBookSnapshot) []models.BookLevel {
	if d.side == SideAsk {
		return snap.Asks
	}
	return snap.Bids
}

// Observe appends a new order-book snapshot to the bounded history,
// recording the watched side's total depth and mid price alongside it.
func (d *Detector) Observe(snap models.OrderBookSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshots = appendBounded(d.snapshots, snap, maxHistory)
	d.depths = appendBoundedFloat(d.depths, models.DepthSum(d.levels(snap), watchDepth), maxHistory)
	if mid := snap.Mid(); mid != 0 {
		d.midPrices = appendBoundedFloat(d.midPrices, mid, maxHistory)
	}
}

// RecordTrade appends an executed trade attributed to the watched side.
func (d *Detector) RecordTrade(tr Trade) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trades = appendBounded(d.trades, tr, maxHistory)
}

func appendBounded[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func appendBoundedFloat(s []float64, v float64, max int) []float64 {
	return appendBounded(s, v, max)
}

// Detect fuses the five signals into a composite score.
func (d *Detector) Detect() Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	signals := []Signal{
		d.refillingPattern(),
		d.volumeAnomaly(),
		d.priceRejection(),
		d.depthRegeneration(),
		d.consistentSize(),
	}

	composite := 0.0
	for _, s := range signals {
		if s.Detected {
			composite += signalWeights[s.Name] * s.Score
		}
	}
	composite = clamp01(composite)

	return Result{
		Price: d.touchPrice(), Signals: signals, CompositeScore: composite,
		Confidence:          confidenceOf(composite),
		EstimatedHiddenSize: d.estimatedHiddenSize(composite),
	}
}

// touchPrice reports the watched side's best price at the latest snapshot.
func (d *Detector) touchPrice() float64 {
	if len(d.snapshots) == 0 {
		return 0
	}
	latest := d.snapshots[len(d.snapshots)-1]
	if d.side == SideAsk {
		return latest.BestAsk()
	}
	return latest.BestBid()
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

func confidenceOf(score float64) string {
	switch {
	case score >= 0.7:
		return "VERY_HIGH"
	case score >= 0.5:
		return "HIGH"
	case score >= 0.3:
		return "MEDIUM"
	case score >= 0.15:
		return "LOW"
	default:
		return "VERY_LOW"
	}
}

// refillingPattern detects at least RefillingMinLevels distinct price
// levels where a small size (below RefillingMaxSize) recurs at least
// RefillingMinOccurrences times across the snapshot history.
func (d *Detector) refillingPattern() Signal {
	const name = "refilling_pattern"
	if len(d.snapshots) < d.cfg.RefillingMinOccurrences {
		return Signal{Name: name}
	}
	counts := make(map[float64]int)
	for _, snap := range d.snapshots {
		for _, l := range d.levels(snap) {
			if l.Size > 0 && l.Size < d.cfg.RefillingMaxSize {
				counts[l.Price]++
			}
		}
	}
	qualifying, bestScore := 0, 0.0
	for _, c := range counts {
		if c < d.cfg.RefillingMinOccurrences {
			continue
		}
		qualifying++
		if score := clamp01(float64(c) / float64(len(d.snapshots))); score > bestScore {
			bestScore = score
		}
	}
	if qualifying < d.cfg.RefillingMinLevels {
		return Signal{Name: name}
	}
	return Signal{Name: name, Detected: true, Score: bestScore}
}

// volumeAnomaly detects executed volume over the last 5 minutes running
// well above the currently visible depth on the watched side.
func (d *Detector) volumeAnomaly() Signal {
	const name = "volume_anomaly"
	if len(d.snapshots) == 0 {
		return Signal{Name: name}
	}
	latest := d.snapshots[len(d.snapshots)-1]
	visible := models.DepthSum(d.levels(latest), watchDepth)
	if visible == 0 {
		return Signal{Name: name}
	}
	cutoff := latest.Timestamp.Add(-5 * time.Minute)
	executed := 0.0
	for _, tr := range d.trades {
		if tr.Timestamp.After(cutoff) {
			executed += tr.Size
		}
	}
	ratio := executed / visible
	if ratio < d.cfg.VolumeAnomalyRatio {
		return Signal{Name: name}
	}
	score := clamp01(ratio / (d.cfg.VolumeAnomalyRatio * 3))
	return Signal{Name: name, Detected: true, Score: score}
}

// priceRejection detects local extrema in the mid-price series that
// recur, rounded to the nearest $100 bucket.
func (d *Detector) priceRejection() Signal {
	const name = "price_rejection"
	if len(d.midPrices) < 3 {
		return Signal{Name: name}
	}
	buckets := make(map[float64]int)
	for i := 1; i < len(d.midPrices)-1; i++ {
		prev, cur, next := d.midPrices[i-1], d.midPrices[i], d.midPrices[i+1]
		if !((cur > prev && cur > next) || (cur < prev && cur < next)) {
			continue
		}
		buckets[math.Round(cur/100)*100]++
	}
	recurring, bestCount := 0, 0
	for _, c := range buckets {
		if c >= 2 {
			recurring++
		}
		if c > bestCount {
			bestCount = c
		}
	}
	if recurring < d.cfg.RejectionMinCount {
		return Signal{Name: name}
	}
	score := clamp01(float64(bestCount) / float64(len(d.midPrices)))
	return Signal{Name: name, Detected: true, Score: score}
}

// depthRegeneration detects at least RegenMinSequences drop-then-recover
// sequences in the watched side's depth history.
func (d *Detector) depthRegeneration() Signal {
	const name = "depth_regeneration"
	if len(d.depths) < 3 {
		return Signal{Name: name}
	}
	events := 0
	for i := 1; i < len(d.depths)-1; i++ {
		prev, cur, next := d.depths[i-1], d.depths[i], d.depths[i+1]
		if prev == 0 || cur == 0 {
			continue
		}
		drop := (prev - cur) / prev
		if drop < d.cfg.RegenMinDropPct {
			continue
		}
		recovery := (next - cur) / prev
		if recovery >= d.cfg.RegenMinRecoveryPct {
			events++
		}
	}
	if events < d.cfg.RegenMinSequences {
		return Signal{Name: name}
	}
	score := clamp01(float64(events) / float64(len(d.depths)/3+1))
	return Signal{Name: name, Detected: true, Score: score}
}

// consistentSize detects the same rounded size (0.1 BTC bin) appearing at
// least ConsistentSizeMinOccurs times across the current asks.
func (d *Detector) consistentSize() Signal {
	const name = "consistent_size"
	if len(d.snapshots) == 0 {
		return Signal{Name: name}
	}
	asks := d.snapshots[len(d.snapshots)-1].Asks
	if len(asks) < d.cfg.ConsistentSizeMinOccurs {
		return Signal{Name: name}
	}
	sizes := make(map[float64]int)
	for _, l := range asks {
		bucket := math.Round(l.Size*10) / 10
		sizes[bucket]++
	}
	maxCount := 0
	for _, c := range sizes {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount < d.cfg.ConsistentSizeMinOccurs {
		return Signal{Name: name}
	}
	score := clamp01(float64(maxCount) / float64(len(asks)))
	return Signal{Name: name, Detected: true, Score: score}
}

// estimatedHiddenSize scales the watched side's visible top-5 size by the
// composite confidence, per the spec's estimated_hidden_size formula.
func (d *Detector) estimatedHiddenSize(composite float64) float64 {
	if composite == 0 || len(d.snapshots) == 0 {
		return 0
	}
	visible := models.DepthSum(d.levels(d.snapshots[len(d.snapshots)-1]), 5)
	if visible == 0 {
		return 0
	}
	return visible*(1+10*composite) - visible
}
