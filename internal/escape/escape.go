// Package escape fuses the gamma exposure, order book, liquidation, and
// iceberg signals into a single escape-type classification per tick: is
// price breaking through a gamma wall for real (H1), faking through one
// (H2), or is liquidity simply collapsing around it (H3)?
package escape

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/halfpipe-dev/escapeengine/internal/iceberg"
	"github.com/halfpipe-dev/escapeengine/internal/liquidation"
	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/halfpipe-dev/escapeengine/internal/orderbook"
)

const (
	maxDetectionHistory = 3600
	maxDetectionAge     = 60 * time.Minute
	maxAlertHistory     = 50
)

// Input bundles every signal the fusion detector reads for one tick.
// Validate reports whether the fields detection cannot run without are set.
type Input struct {
	Now         time.Time
	Spot        float64
	GEXTotals   models.GEXTotals
	GammaFlip   models.GammaFlip
	PutWall     *models.Wall
	CallWall    *models.Wall
	Book        orderbook.Metrics
	Liquidation liquidation.Stats
	IcebergBid  *iceberg.Result
	IcebergAsk  *iceberg.Result
	IsWeekend   bool
	IsOffHours  bool
}

// Validate reports whether Input carries enough data to run detection.
func (in Input) Validate() bool {
	return in.Spot > 0 && !in.Now.IsZero() && !in.Book.Timestamp.IsZero()
}

// Detector holds the bounded detection/alert history.
type Detector struct {
	mu      sync.Mutex
	history []models.DetectionRecord
	alerts  []models.Alert
}

// New creates a Detector with empty history.
func New() *Detector {
	return &Detector{}
}

// classifyRegime counts indicator hits (low GEX, high iceberg activity,
// weekend, off-hours) and buckets the market into one of three adaptive
// weighting regimes.
func classifyRegime(in Input) models.MarketRegime {
	indicators := 0
	if absF(in.GEXTotals.Total) < 5e7 {
		indicators++
	}
	if icebergActive(in.IcebergBid) || icebergActive(in.IcebergAsk) {
		indicators++
	}
	if in.IsWeekend {
		indicators++
	}
	if in.IsOffHours {
		indicators++
	}

	switch {
	case indicators >= 3:
		return models.RegimeOptionsInactive
	case indicators == 2:
		return models.RegimeTransition
	default:
		return models.RegimeOptionsActive
	}
}

func icebergActive(r *iceberg.Result) bool {
	return r != nil && r.CompositeScore > 0.5
}

var regimeWeightTable = map[models.MarketRegime]models.RegimeWeights{
	models.RegimeOptionsActive:   {GEX: 0.60, Iceberg: 0.20, Liquidity: 0.20},
	models.RegimeTransition:      {GEX: 0.40, Iceberg: 0.40, Liquidity: 0.20},
	models.RegimeOptionsInactive: {GEX: 0.10, Iceberg: 0.60, Liquidity: 0.30},
}

// composePotential adaptively weights GEX, iceberg, and liquidity
// "potential" contributions by the detected regime, with a floor of 0.4
// (inactive) / 0.3 (every other regime) on the total so P_escape never
// divides by a vanishingly small denominator.
func composePotential(in Input, regime models.MarketRegime) models.PotentialComponents {
	weights := regimeWeightTable[regime]

	putWallGEX, callWallGEX := 0.0, 0.0
	putDistPct, callDistPct := 1.0, 1.0
	if in.PutWall != nil {
		putWallGEX = absF(in.PutWall.GEX)
		putDistPct = absF(in.PutWall.DistancePct)
	}
	if in.CallWall != nil {
		callWallGEX = absF(in.CallWall.GEX)
		callDistPct = absF(in.CallWall.DistancePct)
	}

	gexComponent := clamp01(absF(in.GEXTotals.Total)/5e8)*0.6 +
		clamp01(math.Max(putWallGEX, callWallGEX)/1e9)*0.3 +
		math.Max(0, 1-math.Min(putDistPct, callDistPct))*0.1

	icebergComponent := 0.0
	if s := icebergScore(in.IcebergBid); s > icebergComponent {
		icebergComponent = s
	}
	if s := icebergScore(in.IcebergAsk); s > icebergComponent {
		icebergComponent = s
	}

	depth := in.Book.BidDepth + in.Book.AskDepth
	liquidityComponent := 0.5*clamp01(depth/50e6) + 0.3*clamp01(in.Book.SpreadPct*1000) + 0.2*(1-absF(in.Book.BookImbalance))

	total := weights.GEX*gexComponent + weights.Iceberg*icebergComponent + weights.Liquidity*liquidityComponent

	floor := 0.3
	switch regime {
	case models.RegimeOptionsInactive:
		floor = 0.4
	}
	if total < floor {
		total = floor
	}

	return models.PotentialComponents{
		GEX: gexComponent, Iceberg: icebergComponent, Liquidity: liquidityComponent,
		Total: total, Weights: weights, Regime: regime,
	}
}

func icebergScore(r *iceberg.Result) float64 {
	if r == nil {
		return 0
	}
	return r.CompositeScore
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

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// energies derives sustained energy (from the order book's composite) and
// injected energy (from liquidation pressure), and their mean.
func energies(in Input) (sustained, injected, total float64) {
	sustained = in.Book.SustainedEnergy
	injected = in.Liquidation.EnergyScore
	total = (sustained + injected) / 2
	return
}

// direction fuses order-book imbalance and liquidation side-imbalance into
// a single directional call.
func direction(in Input) models.Direction {
	score := 0.0
	switch in.Book.Direction {
	case orderbook.ImbalanceBuyPressure:
		score++
	case orderbook.ImbalanceSellPressure:
		score--
	}
	if in.Liquidation.LongShare1h > in.Liquidation.ShortShare1h {
		score++ // BUY-side (short-squeeze) liquidations dominate: upward pressure
	} else if in.Liquidation.ShortShare1h > in.Liquidation.LongShare1h {
		score--
	}

	switch {
	case score > 0:
		return models.DirectionUp
	case score < 0:
		return models.DirectionDown
	default:
		return models.DirectionNeutral
	}
}

// nearestWall picks the wall in the direction of travel, closest to spot.
func nearestWall(in Input, dir models.Direction) *models.Wall {
	switch dir {
	case models.DirectionUp:
		return in.CallWall
	case models.DirectionDown:
		return in.PutWall
	default:
		if in.CallWall == nil {
			return in.PutWall
		}
		if in.PutWall == nil {
			return in.CallWall
		}
		if absF(in.CallWall.Distance) < absF(in.PutWall.Distance) {
			return in.CallWall
		}
		return in.PutWall
	}
}

// hypothesisCheck is one named boolean check with a fixed weight.
type hypothesisCheck struct {
	name   string
	weight float64
	check  func(in Input, dir models.Direction, wall *models.Wall, pEscape float64) bool
}

// wallStrength reports how much dealer gamma backs the wall, in [0,1].
func wallStrength(wall *models.Wall) float64 {
	if wall == nil {
		return 0
	}
	return clamp01(absF(wall.GEX) / 1e9)
}

var h1Checks = []hypothesisCheck{
	{"persistence_high", 0.20, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.Persistence > 0.7
	}},
	{"sustained_high", 0.20, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.SustainedEnergy > 0.6
	}},
	{"injected_moderate", 0.15, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Liquidation.EnergyScore >= 0.4 && in.Liquidation.EnergyScore <= 0.7
	}},
	{"no_cascade", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return !in.Liquidation.CascadeActive
	}},
	{"depth_stable", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.DepthChange > -0.2
	}},
	{"spread_tight", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.SpreadQualityScore > 0.7
	}},
	{"wall_close", 0.05, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return wall != nil && absF(wall.DistancePct) < 0.05
	}},
	{"p_escape_high", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return p > 0.6
	}},
}

var h2Checks = []hypothesisCheck{
	{"persistence_low", 0.25, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.Persistence < 0.4
	}},
	{"sustained_moderate", 0.15, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.SustainedEnergy > 0.3 && in.Book.SustainedEnergy < 0.7
	}},
	{"injected_low", 0.15, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Liquidation.EnergyScore < 0.4
	}},
	{"no_cascade", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return !in.Liquidation.CascadeActive
	}},
	{"wall_very_close", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return wall != nil && absF(wall.DistancePct) < 0.03
	}},
	{"wall_strong", 0.15, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return wallStrength(wall) > 0.7
	}},
	{"p_escape_low", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return p < 0.4
	}},
}

var h3Checks = []hypothesisCheck{
	{"injected_high", 0.25, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Liquidation.EnergyScore > 0.7
	}},
	{"cascade_active", 0.30, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Liquidation.CascadeActive
	}},
	{"depth_vacuum", 0.15, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.DepthChange < -0.3
	}},
	{"spread_poor", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.SpreadQualityScore < 0.5
	}},
	{"spread_volatile", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return in.Book.Pulse > 2.0
	}},
	{"p_escape_extreme", 0.10, func(in Input, dir models.Direction, wall *models.Wall, p float64) bool {
		return p > 0.8
	}},
}

// scoreChecks runs every check, returning the weighted confidence score
// (sum of weights for met checks, used to rank candidates against each
// other), the unweighted met/total fraction (used against each
// hypothesis's own score floor), and the per-check result map.
func scoreChecks(checks []hypothesisCheck, in Input, dir models.Direction, wall *models.Wall, p float64) (score, metFraction float64, results map[string]bool) {
	results = make(map[string]bool, len(checks))
	met := 0
	for _, c := range checks {
		hit := c.check(in, dir, wall, p)
		results[c.name] = hit
		if hit {
			score += c.weight
			met++
		}
	}
	metFraction = float64(met) / float64(len(checks))
	return score, metFraction, results
}

// Detect runs one fusion tick and appends the result to bounded history.
// Invalid input yields a NONE detection that is not recorded.
func (d *Detector) Detect(in Input) models.Detection {
	now := in.Now
	if !in.Validate() {
		return models.Detection{ID: uuid.NewString(), Timestamp: now, Type: models.EscapeNone, Reason: "insufficient input data"}
	}

	regime := classifyRegime(in)
	potential := composePotential(in, regime)
	sustained, injected, total := energies(in)

	pEscape := 0.0
	if potential.Total > 0 {
		pEscape = total / potential.Total
	}

	dir := direction(in)
	wall := nearestWall(in, dir)

	h1Score, h1Fraction, h1Results := scoreChecks(h1Checks, in, dir, wall, pEscape)
	h2Score, h2Fraction, h2Results := scoreChecks(h2Checks, in, dir, wall, pEscape)
	h3Score, h3Fraction, h3Results := scoreChecks(h3Checks, in, dir, wall, pEscape)

	type candidate struct {
		typ         models.EscapeHypothesis
		score       float64
		metFraction float64
		floor       float64
		checks      map[string]bool
	}
	candidates := []candidate{
		{models.EscapeH1, h1Score, h1Fraction, 0.6, h1Results},
		{models.EscapeH2, h2Score, h2Fraction, 0.6, h2Results},
		{models.EscapeH3, h3Score, h3Fraction, 0.5, h3Results},
	}

	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if c.metFraction <= c.floor {
			continue
		}
		if best == nil || c.score > best.score {
			best = c
		}
	}

	det := models.Detection{
		ID: uuid.NewString(), Timestamp: now, Type: models.EscapeNone,
		Direction: dir, SustainedEnergy: sustained, InjectedEnergy: injected, TotalEnergy: total,
		Potential: potential, PEscape: pEscape, NearestWall: wall,
	}
	if best != nil {
		det.Type = best.typ
		det.Confidence = best.score
		det.ConditionChecks = best.checks
		det.Reason = reasonFor(best.typ, pEscape)
	}

	d.record(det)
	return det
}

func reasonFor(hyp models.EscapeHypothesis, pEscape float64) string {
	switch hyp {
	case models.EscapeH1:
		return "directional energy sustained through the nearest wall"
	case models.EscapeH2:
		effectiveP := 1 - pEscape
		if effectiveP > 0.6 {
			return "price probing the wall without follow-through; high reversion odds"
		}
		return "price probing the wall without follow-through"
	case models.EscapeH3:
		return "liquidity vacuum independent of directional conviction"
	default:
		return ""
	}
}

func (d *Detector) record(det models.Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, models.DetectionRecord{
		Timestamp: det.Timestamp, Type: det.Type, Confidence: det.Confidence,
		PEscape: det.PEscape, Direction: det.Direction,
	})
	cutoff := det.Timestamp.Add(-maxDetectionAge)
	i := 0
	for i < len(d.history) && d.history[i].Timestamp.Before(cutoff) {
		i++
	}
	d.history = d.history[i:]
	if len(d.history) > maxDetectionHistory {
		d.history = d.history[len(d.history)-maxDetectionHistory:]
	}

	if alert := alertFor(det); alert != nil {
		d.alerts = append(d.alerts, *alert)
		if len(d.alerts) > maxAlertHistory {
			d.alerts = d.alerts[len(d.alerts)-maxAlertHistory:]
		}
	}
}

// alertFor applies the emission rules: H1>0.7 is HIGH, H2>0.7 is MEDIUM,
// H3 fires at any confidence as CRITICAL, and a standalone
// HIGH_P_ESCAPE alert fires when P_escape>0.8 unless the detection is H2.
func alertFor(det models.Detection) *models.Alert {
	switch det.Type {
	case models.EscapeH1:
		if det.Confidence > 0.7 {
			return mkAlert(models.AlertH1Detected, models.SeverityHigh, det, "sustained directional break through the nearest gamma wall")
		}
	case models.EscapeH2:
		if det.Confidence > 0.7 {
			return mkAlert(models.AlertH2Detected, models.SeverityMedium, det, reasonFor(models.EscapeH2, det.PEscape))
		}
	case models.EscapeH3:
		return mkAlert(models.AlertH3Detected, models.SeverityCritical, det, "liquidity collapse detected independent of direction")
	}

	if det.Type != models.EscapeH2 && det.PEscape > 0.8 {
		return mkAlert(models.AlertHighPEscape, models.SeverityHigh, det, "escape probability exceeds 0.8")
	}
	return nil
}

func mkAlert(typ models.AlertType, sev models.Severity, det models.Detection, msg string) *models.Alert {
	d := det
	return &models.Alert{
		ID: uuid.NewString(), Type: typ, Severity: sev, Timestamp: det.Timestamp,
		Message: msg, Detection: &d,
	}
}

// History returns a copy of the bounded detection history.
func (d *Detector) History() []models.DetectionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.DetectionRecord, len(d.history))
	copy(out, d.history)
	return out
}

// Alerts returns a copy of the bounded alert ring.
func (d *Detector) Alerts() []models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}
