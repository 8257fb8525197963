// Package volsurface builds the (DTE x strike) implied-volatility surface
// from a snapshot of option contracts and computes ATM/skew summary
// metrics off of it.
package volsurface

import (
	"math"
	"sort"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

const secondsPerDay = 86400

// dteOf returns the ceil(max(0, expiry-now)/86400s) day-count used to bucket
// a contract into the surface.
func dteOf(expiry, now time.Time) int {
	secs := expiry.Sub(now).Seconds()
	if secs < 0 {
		secs = 0
	}
	return int(math.Ceil(secs / secondsPerDay))
}

type cellAccumulator struct {
	callIVWeighted, callOI float64
	callIVPlain            float64
	putIVWeighted, putOI   float64
	putIVPlain             float64
	callCount, putCount    int
	volume                 int64
	openInt                float64
}

// Build filters to options with mark_iv>0, positive strike, and a non-zero
// expiry, groups them by (dte, strike), and produces an OI-weighted average
// IV per cell (falling back to an arithmetic mean when open interest is
// zero across the cell).
func Build(options []models.Option, spot float64, now time.Time) models.VolSurface {
	cells := make(map[int]map[float64]*cellAccumulator)
	strikeSet := make(map[float64]struct{})
	dteSet := make(map[int]struct{})

	for _, o := range options {
		if o.MarkIV <= 0 || o.Strike <= 0 || o.Expiry.IsZero() {
			continue
		}
		dte := dteOf(o.Expiry, now)
		byStrike, ok := cells[dte]
		if !ok {
			byStrike = make(map[float64]*cellAccumulator)
			cells[dte] = byStrike
		}
		acc, ok := byStrike[o.Strike]
		if !ok {
			acc = &cellAccumulator{}
			byStrike[o.Strike] = acc
		}
		switch o.Side {
		case models.SideCall:
			acc.callIVWeighted += o.MarkIV * max(o.OpenInterest, 0)
			acc.callIVPlain += o.MarkIV
			acc.callOI += o.OpenInterest
			acc.callCount++
		case models.SidePut:
			acc.putIVWeighted += o.MarkIV * max(o.OpenInterest, 0)
			acc.putIVPlain += o.MarkIV
			acc.putOI += o.OpenInterest
			acc.putCount++
		}
		acc.openInt += o.OpenInterest
		strikeSet[o.Strike] = struct{}{}
		dteSet[dte] = struct{}{}
	}

	strikes := sortedFloats(strikeSet)
	dtes := sortedInts(dteSet)

	avgIV := make(map[int]map[float64]float64)
	callIVOut := make(map[int]map[float64]float64)
	putIVOut := make(map[int]map[float64]float64)
	var points []models.VolSurfacePoint

	for dte, byStrike := range cells {
		avgIV[dte] = make(map[float64]float64)
		callIVOut[dte] = make(map[float64]float64)
		putIVOut[dte] = make(map[float64]float64)
		for strike, acc := range byStrike {
			var callIV, putIV *float64
			if acc.callCount > 0 {
				v := weightedOrMean(acc.callIVWeighted, acc.callIVPlain, acc.callOI, acc.callCount)
				callIV = &v
				callIVOut[dte][strike] = v
			}
			if acc.putCount > 0 {
				v := weightedOrMean(acc.putIVWeighted, acc.putIVPlain, acc.putOI, acc.putCount)
				putIV = &v
				putIVOut[dte][strike] = v
			}

			var pooled *float64
			switch {
			case callIV != nil && putIV != nil:
				v := weightedOrMean(acc.callIVWeighted+acc.putIVWeighted, acc.callIVPlain+acc.putIVPlain, acc.callOI+acc.putOI, acc.callCount+acc.putCount)
				pooled = &v
			case callIV != nil:
				pooled = callIV
			case putIV != nil:
				pooled = putIV
			}
			if pooled != nil {
				avgIV[dte][strike] = *pooled
			}

			moneyness := 0.0
			if spot != 0 {
				moneyness = strike / spot
			}
			points = append(points, models.VolSurfacePoint{
				Strike: strike, DTE: dte, Moneyness: moneyness,
				CallIV: callIV, PutIV: putIV, AvgIV: pooled,
				Volume: acc.volume, OpenInt: acc.openInt,
			})
		}
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].DTE != points[j].DTE {
			return points[i].DTE < points[j].DTE
		}
		return points[i].Strike < points[j].Strike
	})

	atmStrike, atmIV := atmOf(points, spot)
	skew := skewOf(points, spot)

	return models.VolSurface{
		Strikes: strikes, DTEs: dtes,
		AvgIV: avgIV, CallIV: callIVOut, PutIV: putIVOut,
		ATMStrike: atmStrike, ATMIV: atmIV,
		Skew: skew, Points: points,
	}
}

// weightedOrMean returns the OI-weighted average IV, falling back to the
// plain arithmetic mean when the cell's total open interest is zero.
func weightedOrMean(ivWeightedSum, ivPlainSum, totalOI float64, count int) float64 {
	if totalOI > 0 {
		return ivWeightedSum / totalOI
	}
	if count == 0 {
		return 0
	}
	return ivPlainSum / float64(count)
}

func atmOf(points []models.VolSurfacePoint, spot float64) (strike, iv float64) {
	var nearest *models.VolSurfacePoint
	bestDist := math.MaxFloat64
	for i := range points {
		if points[i].AvgIV == nil {
			continue
		}
		d := math.Abs(points[i].Strike - spot)
		if d < bestDist {
			bestDist = d
			nearest = &points[i]
		}
	}
	if nearest == nil {
		return 0, 0
	}
	return nearest.Strike, *nearest.AvgIV
}

// skewOf computes put-skew, call-skew, and total-skew at the nearest
// expiry: OTM put IV minus ATM IV, OTM call IV minus ATM IV, and the sum.
func skewOf(points []models.VolSurfacePoint, spot float64) models.SkewMetrics {
	if len(points) == 0 {
		return models.SkewMetrics{}
	}
	nearestDTE := points[0].DTE
	for _, p := range points {
		if p.DTE < nearestDTE {
			nearestDTE = p.DTE
		}
	}

	var atmIV *float64
	var otmPutIV, otmCallIV *float64
	bestATMDist := math.MaxFloat64
	bestPutDist := math.MaxFloat64
	bestCallDist := math.MaxFloat64

	for _, p := range points {
		if p.DTE != nearestDTE || p.AvgIV == nil {
			continue
		}
		d := math.Abs(p.Strike - spot)
		if d < bestATMDist {
			bestATMDist = d
			v := *p.AvgIV
			atmIV = &v
		}
		if p.Strike < spot && p.PutIV != nil && d < bestPutDist {
			bestPutDist = d
			v := *p.PutIV
			otmPutIV = &v
		}
		if p.Strike > spot && p.CallIV != nil && d < bestCallDist {
			bestCallDist = d
			v := *p.CallIV
			otmCallIV = &v
		}
	}

	var skew models.SkewMetrics
	if atmIV == nil {
		return skew
	}
	if otmPutIV != nil {
		v := *otmPutIV - *atmIV
		skew.PutSkew = &v
	}
	if otmCallIV != nil {
		v := *otmCallIV - *atmIV
		skew.CallSkew = &v
	}
	if skew.PutSkew != nil && skew.CallSkew != nil {
		v := *skew.PutSkew + *skew.CallSkew
		skew.TotalSkew = &v
	}
	return skew
}

func sortedFloats(set map[float64]struct{}) []float64 {
	out := make([]float64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

func sortedInts(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
