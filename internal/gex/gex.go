// Package gex computes gamma-exposure aggregates, the gamma-flip level,
// put/call walls, wall zones, and the smart-range strike filter from a
// snapshot of option contracts and a spot price.
package gex

import (
	"math"
	"sort"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

const gexNotionalScale = 0.01 // GEX is quoted per 1% move, per spec §4.2.

// PerOption returns a single contract's GEX contribution. Zero gamma or
// zero open interest contracts are skipped (return 0) per spec §4.2.
func PerOption(opt models.Option, spot float64) float64 {
	if opt.Gamma == 0 || opt.OpenInterest == 0 {
		return 0
	}
	size := opt.ContractSize
	if size <= 0 {
		size = 1
	}
	return opt.Gamma * size * opt.OpenInterest * spot * spot * gexNotionalScale * opt.Side.Sign()
}

// Profile builds the by-strike gamma profile (ascending by strike) and the
// total/calls/puts triple for a snapshot of options at the given spot.
func Profile(options []models.Option, spot float64) ([]models.GammaProfilePoint, models.GEXTotals) {
	byStrike := make(map[float64]*models.GammaProfilePoint)

	var totals models.GEXTotals
	for _, opt := range options {
		g := PerOption(opt, spot)
		if g == 0 {
			continue
		}
		p, ok := byStrike[opt.Strike]
		if !ok {
			p = &models.GammaProfilePoint{Strike: opt.Strike}
			byStrike[opt.Strike] = p
		}
		p.TotalGEX += g
		switch opt.Side {
		case models.SideCall:
			p.CallGEX += g
			p.CallOI += opt.OpenInterest
			p.CallGamma += opt.Gamma
			totals.Calls += g
		case models.SidePut:
			p.PutGEX += g
			p.PutOI += opt.OpenInterest
			p.PutGamma += opt.Gamma
			totals.Puts += g
		}
		totals.Total += g
	}

	profile := make([]models.GammaProfilePoint, 0, len(byStrike))
	for _, p := range byStrike {
		profile = append(profile, *p)
	}
	sort.Slice(profile, func(i, j int) bool { return profile[i].Strike < profile[j].Strike })
	return profile, totals
}

// GammaFlip scans the sorted profile for an adjacent-strike sign crossing
// and linearly interpolates the zero level. If no crossing exists, it falls
// back to the strike with the smallest |total_gex| at MEDIUM confidence.
func GammaFlip(profile []models.GammaProfilePoint) models.GammaFlip {
	if len(profile) == 0 {
		return models.GammaFlip{Confidence: models.FlipConfidenceNone}
	}

	for i := 0; i < len(profile)-1; i++ {
		a, b := profile[i], profile[i+1]
		if sign(a.TotalGEX) != sign(b.TotalGEX) && sign(a.TotalGEX) != 0 && sign(b.TotalGEX) != 0 {
			absA, absB := math.Abs(a.TotalGEX), math.Abs(b.TotalGEX)
			denom := absA + absB
			if denom == 0 {
				continue
			}
			level := a.Strike + (b.Strike-a.Strike)*absA/denom
			return models.GammaFlip{Level: level, Confidence: models.FlipConfidenceHigh}
		}
	}

	best := profile[0]
	for _, p := range profile[1:] {
		if math.Abs(p.TotalGEX) < math.Abs(best.TotalGEX) {
			best = p
		}
	}
	return models.GammaFlip{Level: best.Strike, Confidence: models.FlipConfidenceMedium}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Walls returns the put wall (argmin put_gex) and call wall (argmax
// call_gex) from the profile, with distance to spot. Returns nil for either
// side if the profile is empty.
func Walls(profile []models.GammaProfilePoint, spot float64) (put *models.Wall, call *models.Wall) {
	if len(profile) == 0 {
		return nil, nil
	}

	putIdx, callIdx := -1, -1
	for i, p := range profile {
		if putIdx == -1 || p.PutGEX < profile[putIdx].PutGEX {
			putIdx = i
		}
		if callIdx == -1 || p.CallGEX > profile[callIdx].CallGEX {
			callIdx = i
		}
	}

	mk := func(side models.WallSide, p models.GammaProfilePoint, gexVal, oi, gamma float64) *models.Wall {
		dist := p.Strike - spot
		distPct := 0.0
		if spot != 0 {
			distPct = dist / spot
		}
		return &models.Wall{
			Side: side, Strike: p.Strike, GEX: gexVal, OpenInterest: oi, Gamma: gamma,
			Distance: dist, DistancePct: distPct,
		}
	}

	p := profile[putIdx]
	c := profile[callIdx]
	put = mk(models.WallSidePut, p, p.PutGEX, p.PutOI, p.PutGamma)
	call = mk(models.WallSideCall, c, c.CallGEX, c.CallOI, c.CallGamma)
	return put, call
}

// DefaultWallZoneThreshold is the default contributing-strike cutoff (70%
// of peak |GEX|).
const DefaultWallZoneThreshold = 0.7

// WallZones expands a peak (e.g. a wall strike) into a contiguous zone of
// strikes on the same side whose |GEX| is at least threshold*|peak|.
func WallZones(profile []models.GammaProfilePoint, threshold float64) (putZone, callZone *models.WallZone) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultWallZoneThreshold
	}
	if len(profile) == 0 {
		return nil, nil
	}

	build := func(side models.WallSide, valueOf func(models.GammaProfilePoint) float64) *models.WallZone {
		peakIdx := -1
		for i, p := range profile {
			v := valueOf(p)
			if peakIdx == -1 || math.Abs(v) > math.Abs(valueOf(profile[peakIdx])) {
				peakIdx = i
			}
		}
		peak := profile[peakIdx]
		peakVal := valueOf(peak)
		if peakVal == 0 {
			return nil
		}
		cut := math.Abs(peakVal) * threshold

		var strikes []models.ZoneStrike
		var totalGEX float64
		low, high := peak.Strike, peak.Strike
		for _, p := range profile {
			v := valueOf(p)
			if math.Abs(v) >= cut {
				pct := 0.0
				if peakVal != 0 {
					pct = v / peakVal * 100
				}
				strikes = append(strikes, models.ZoneStrike{Strike: p.Strike, GEX: v, PctOfPeak: pct})
				totalGEX += v
				if p.Strike < low {
					low = p.Strike
				}
				if p.Strike > high {
					high = p.Strike
				}
			}
		}
		sort.Slice(strikes, func(i, j int) bool { return strikes[i].Strike < strikes[j].Strike })

		return &models.WallZone{
			Side: side, PeakStrike: peak.Strike, PeakGEX: peakVal,
			ZoneLow: low, ZoneHigh: high, ZoneStrikes: strikes,
			TotalZoneGEX: totalGEX, Threshold: threshold,
		}
	}

	putZone = build(models.WallSidePut, func(p models.GammaProfilePoint) float64 { return p.PutGEX })
	callZone = build(models.WallSideCall, func(p models.GammaProfilePoint) float64 { return p.CallGEX })
	return putZone, callZone
}

// SmartRangeResult is the filtered gamma profile plus its derivation.
type SmartRangeResult struct {
	Profile          []models.GammaProfilePoint
	LowBound         float64
	HighBound        float64
	CompressionRatio float64 // len(filtered)/len(input), 0 if input empty
}

// SmartRangeOptions configures the smart-range filter; zero values fall
// back to spec defaults (±30% of spot, 2% of max |side-GEX|).
type SmartRangeOptions struct {
	RangePct     float64
	GEXPctThresh float64
}

// SmartRange filters the gamma profile down to strikes that are inside a
// price range around spot (expanded to include any wall zones, with a 5%
// margin) and either exceed a significant-GEX threshold or lie inside a
// wall zone.
func SmartRange(profile []models.GammaProfilePoint, spot float64, zones []*models.WallZone, opts SmartRangeOptions) SmartRangeResult {
	if len(profile) == 0 {
		return SmartRangeResult{}
	}
	rangePct := opts.RangePct
	if rangePct <= 0 {
		rangePct = 0.30
	}
	gexPctThresh := opts.GEXPctThresh
	if gexPctThresh <= 0 {
		gexPctThresh = 0.02
	}

	low := spot * (1 - rangePct)
	high := spot * (1 + rangePct)
	for _, z := range zones {
		if z == nil {
			continue
		}
		margin := spot * 0.05
		if z.ZoneLow-margin < low {
			low = z.ZoneLow - margin
		}
		if z.ZoneHigh+margin > high {
			high = z.ZoneHigh + margin
		}
	}

	inZone := make(map[float64]bool)
	for _, z := range zones {
		if z == nil {
			continue
		}
		for _, zs := range z.ZoneStrikes {
			inZone[zs.Strike] = true
		}
	}

	maxAbsSideGEX := 0.0
	for _, p := range profile {
		if math.Abs(p.CallGEX) > maxAbsSideGEX {
			maxAbsSideGEX = math.Abs(p.CallGEX)
		}
		if math.Abs(p.PutGEX) > maxAbsSideGEX {
			maxAbsSideGEX = math.Abs(p.PutGEX)
		}
	}
	sigThreshold := maxAbsSideGEX * gexPctThresh

	var filtered []models.GammaProfilePoint
	for _, p := range profile {
		if p.Strike < low || p.Strike > high {
			continue
		}
		significant := math.Abs(p.CallGEX) > sigThreshold || math.Abs(p.PutGEX) > sigThreshold
		if significant || inZone[p.Strike] {
			filtered = append(filtered, p)
		}
	}

	ratio := 0.0
	if len(profile) > 0 {
		ratio = float64(len(filtered)) / float64(len(profile))
	}

	return SmartRangeResult{Profile: filtered, LowBound: low, HighBound: high, CompressionRatio: ratio}
}
