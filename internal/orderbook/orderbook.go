// Package orderbook derives liquidity and imbalance metrics from a rolling
// window of futures order-book snapshots: book imbalance, persistence,
// depth, spread quality, wall detection, and a sustained-energy composite.
package orderbook

import (
	"math"
	"sync"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

// Direction buckets for book imbalance.
const (
	ImbalanceBuyPressure  = "BUY_PRESSURE"
	ImbalanceSellPressure = "SELL_PRESSURE"
	ImbalanceBalanced     = "BALANCED"
)

// Strength buckets for book imbalance magnitude.
const (
	StrengthWeak     = "WEAK"
	StrengthModerate = "MODERATE"
	StrengthStrong   = "STRONG"
	StrengthExtreme  = "EXTREME"
)

// Metrics is the full derived-metric bundle for one analysis tick.
type Metrics struct {
	Timestamp          time.Time
	BookImbalance      float64 // (bidDepth-askDepth)/(bidDepth+askDepth), in [-1,1]
	Direction          string
	Strength           string
	Persistence        float64 // fraction of the window with the same-signed imbalance
	BidDepth           float64
	AskDepth           float64
	DepthRatio         float64 // bidDepth/askDepth, 0 if askDepth is 0
	DepthChange        float64 // (total depth - window mean total depth) / window mean, 0 if the mean is 0
	SpreadAbs          float64
	SpreadPct          float64
	SpreadQuality      string  // TIGHT/NORMAL/WIDE
	SpreadQualityScore float64 // monotone-decreasing [0,1] score, 0 once spread reaches 50bps
	Pulse              float64 // variance of mid price over the window
	Walls              []Wall
	SustainedEnergy    float64
	EnergyBucket       string
}

// BookSide identifies which side of the book a wall sits on.
type BookSide string

// Book sides.
const (
	BookSideBid BookSide = "BID"
	BookSideAsk BookSide = "ASK"
)

// Wall is a single price level whose size is a large multiple of the
// window's average level size.
type Wall struct {
	Side  BookSide
	Price float64
	Size  float64
	Ratio float64 // Size / average level size
}

// Analyzer maintains a bounded rolling history of order-book snapshots and
// computes Metrics on demand.
type Analyzer struct {
	mu                 sync.RWMutex
	history            []models.OrderBookSnapshot
	window             time.Duration
	topN               int
	wallSizeMultiplier float64
}

// New creates an Analyzer with a rolling window (default 60s), top-N depth
// (default 10), and wall-size multiplier (default 10x average level size).
func New(window time.Duration, topN int, wallSizeMultiplier float64) *Analyzer {
	if window <= 0 {
		window = 60 * time.Second
	}
	if topN <= 0 {
		topN = 10
	}
	if wallSizeMultiplier <= 0 {
		wallSizeMultiplier = 10
	}
	return &Analyzer{window: window, topN: topN, wallSizeMultiplier: wallSizeMultiplier}
}

// Ingest appends a snapshot and prunes entries older than the window.
func (a *Analyzer) Ingest(snap models.OrderBookSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, snap)
	cutoff := snap.Timestamp.Add(-a.window)
	i := 0
	for i < len(a.history) && a.history[i].Timestamp.Before(cutoff) {
		i++
	}
	a.history = a.history[i:]
}

// Analyze computes the full Metrics bundle from the current window. Returns
// the zero value if no snapshots have been ingested.
func (a *Analyzer) Analyze() Metrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.history) == 0 {
		return Metrics{}
	}

	latest := a.history[len(a.history)-1]
	bidDepth := models.DepthSum(latest.Bids, a.topN)
	askDepth := models.DepthSum(latest.Asks, a.topN)

	imbalance := bookImbalance(bidDepth, askDepth)
	direction, strength := classifyImbalance(imbalance)
	persistence := a.persistence(direction)

	depthRatio := 0.0
	if askDepth != 0 {
		depthRatio = bidDepth / askDepth
	}

	meanDepth := 0.0
	for _, snap := range a.history {
		meanDepth += models.DepthSum(snap.Bids, a.topN) + models.DepthSum(snap.Asks, a.topN)
	}
	meanDepth /= float64(len(a.history))
	depthChange := 0.0
	if meanDepth != 0 {
		depthChange = ((bidDepth + askDepth) - meanDepth) / meanDepth
	}

	spreadAbs := latest.Spread()
	spreadPct := 0.0
	if mid := latest.Mid(); mid != 0 {
		spreadPct = spreadAbs / mid
	}
	spreadQuality := classifySpread(spreadPct)

	pulse := a.pulse()
	walls := a.walls(latest)
	depthComponent := normalizedDepthChange(depthChange)
	energy, bucket := a.sustainedEnergy(imbalance, persistence, spreadPct, depthComponent)

	return Metrics{
		Timestamp: latest.Timestamp, BookImbalance: imbalance, Direction: direction, Strength: strength,
		Persistence: persistence, BidDepth: bidDepth, AskDepth: askDepth, DepthRatio: depthRatio,
		DepthChange: depthChange, SpreadAbs: spreadAbs, SpreadPct: spreadPct, SpreadQuality: spreadQuality,
		SpreadQualityScore: spreadQualityScore(spreadPct),
		Pulse:              pulse, Walls: walls, SustainedEnergy: energy, EnergyBucket: bucket,
	}
}

func bookImbalance(bidDepth, askDepth float64) float64 {
	total := bidDepth + askDepth
	if total == 0 {
		return 0
	}
	return (bidDepth - askDepth) / total
}

func classifyImbalance(imbalance float64) (direction, strength string) {
	switch {
	case imbalance > 0.05:
		direction = ImbalanceBuyPressure
	case imbalance < -0.05:
		direction = ImbalanceSellPressure
	default:
		direction = ImbalanceBalanced
	}

	abs := math.Abs(imbalance)
	switch {
	case abs >= 0.6:
		strength = StrengthExtreme
	case abs >= 0.35:
		strength = StrengthStrong
	case abs >= 0.15:
		strength = StrengthModerate
	default:
		strength = StrengthWeak
	}
	return direction, strength
}

// persistence reports what fraction of the window shared the latest
// direction bucket, given the lock is already held.
func (a *Analyzer) persistence(direction string) float64 {
	if len(a.history) == 0 {
		return 0
	}
	matches := 0
	for _, snap := range a.history {
		bidDepth := models.DepthSum(snap.Bids, a.topN)
		askDepth := models.DepthSum(snap.Asks, a.topN)
		d, _ := classifyImbalance(bookImbalance(bidDepth, askDepth))
		if d == direction {
			matches++
		}
	}
	return float64(matches) / float64(len(a.history))
}

func classifySpread(spreadPct float64) string {
	switch {
	case spreadPct <= 0.0005:
		return "TIGHT"
	case spreadPct <= 0.002:
		return "NORMAL"
	default:
		return "WIDE"
	}
}

// pulse is the population variance of mid price across the window, a crude
// measure of short-term volatility/agitation of the book.
func (a *Analyzer) pulse() float64 {
	if len(a.history) < 2 {
		return 0
	}
	var mids []float64
	for _, snap := range a.history {
		if mid := snap.Mid(); mid != 0 {
			mids = append(mids, mid)
		}
	}
	if len(mids) < 2 {
		return 0
	}
	mean := 0.0
	for _, m := range mids {
		mean += m
	}
	mean /= float64(len(mids))
	variance := 0.0
	for _, m := range mids {
		d := m - mean
		variance += d * d
	}
	return variance / float64(len(mids))
}

// walls flags levels across the window whose size exceeds wallSizeMultiplier
// times the window's average level size.
func (a *Analyzer) walls(latest models.OrderBookSnapshot) []Wall {
	var allSizes []float64
	for _, snap := range a.history {
		for _, l := range snap.Bids {
			allSizes = append(allSizes, l.Size)
		}
		for _, l := range snap.Asks {
			allSizes = append(allSizes, l.Size)
		}
	}
	if len(allSizes) == 0 {
		return nil
	}
	avg := 0.0
	for _, s := range allSizes {
		avg += s
	}
	avg /= float64(len(allSizes))
	if avg == 0 {
		return nil
	}

	var walls []Wall
	scan := func(side BookSide, levels []models.BookLevel) {
		for _, l := range levels {
			ratio := l.Size / avg
			if ratio >= a.wallSizeMultiplier {
				walls = append(walls, Wall{Side: side, Price: l.Price, Size: l.Size, Ratio: ratio})
			}
		}
	}
	scan(BookSideAsk, latest.Asks)
	scan(BookSideBid, latest.Bids)
	return walls
}

// normalizedDepthChange maps depth_change (a signed fraction of the
// window's mean depth) onto [0,1], centered at 0.5 for an unchanged book.
func normalizedDepthChange(depthChange float64) float64 {
	return math.Min(1, math.Max(0, 0.5+depthChange/2))
}

// spreadQualityScore is a monotone-decreasing [0,1] score of spread
// tightness: 0 once the spread reaches 50bps.
func spreadQualityScore(spreadPct float64) float64 {
	return math.Min(1, math.Max(0, 1-spreadPct*200))
}

// sustainedEnergy composes a [0,1] score from book imbalance, persistence,
// spread quality, and depth change, then buckets it.
func (a *Analyzer) sustainedEnergy(imbalance, persistence, spreadPct, depthComponent float64) (float64, string) {
	energy := 0.4*math.Abs(imbalance) + 0.3*persistence + 0.2*spreadQualityScore(spreadPct) + 0.1*depthComponent
	if energy < 0 {
		energy = 0
	}
	if energy > 1 {
		energy = 1
	}

	var bucket string
	switch {
	case energy >= 0.8:
		bucket = "VERY_HIGH"
	case energy >= 0.6:
		bucket = "HIGH"
	case energy >= 0.4:
		bucket = "MODERATE"
	case energy >= 0.2:
		bucket = "LOW"
	default:
		bucket = "VERY_LOW"
	}
	return energy, bucket
}
