// Package volanomaly scans a volatility surface for statistical outliers:
// single-strike IV spikes relative to their DTE neighbors, and abnormal
// put/call skew pairs.
package volanomaly

import (
	"math"
	"sort"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

const (
	minPointsPerDTE = 5
	minPairsPerDTE  = 5
	wingZCut        = 3.5
)

// Detect scans every DTE bucket of a surface for IV outliers and skew
// anomalies, returning them ordered by |z-score| * (1 + log10(1+relevance)),
// descending.
func Detect(surface models.VolSurface, zThreshold float64) []models.Anomaly {
	if zThreshold <= 0 {
		zThreshold = 2.0
	}

	byDTE := make(map[int][]models.VolSurfacePoint)
	for _, p := range surface.Points {
		if p.AvgIV == nil {
			continue
		}
		byDTE[p.DTE] = append(byDTE[p.DTE], p)
	}

	var anomalies []models.Anomaly
	for dte, points := range byDTE {
		anomalies = append(anomalies, ivOutliers(points, zThreshold)...)
		anomalies = append(anomalies, skewAnomalies(dte, points, zThreshold)...)
	}

	sort.Slice(anomalies, func(i, j int) bool {
		return rankKey(anomalies[i]) > rankKey(anomalies[j])
	})
	return anomalies
}

func rankKey(a models.Anomaly) float64 {
	return math.Abs(a.ZScore) * (1 + math.Log10(1+a.Relevance))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// ivOutliers flags points whose IV deviates from the expected IV
// (interpolated from the two nearest-moneyness neighbors, falling back to
// the bucket mean when no bracketing neighbors exist) by more than
// zThreshold standard deviations. Requires >=5 points in the bucket.
func ivOutliers(points []models.VolSurfacePoint, zThreshold float64) []models.Anomaly {
	if len(points) < minPointsPerDTE {
		return nil
	}
	sorted := append([]models.VolSurfacePoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Strike < sorted[j].Strike })

	ivs := make([]float64, len(sorted))
	for i, p := range sorted {
		ivs[i] = *p.AvgIV
	}
	m := mean(ivs)
	sd := stddev(ivs, m)
	if sd == 0 {
		return nil
	}

	var out []models.Anomaly
	for i, p := range sorted {
		expected := expectedIV(sorted, i, m)
		dev := *p.AvgIV - expected
		z := dev / sd
		if math.Abs(z) < zThreshold {
			continue
		}

		isWing := i == 0 || i == len(sorted)-1
		relevance := relevanceScore(p.Volume, p.OpenInt)
		severity := severityOf(z, relevance, isWing)

		priceType := models.PriceOverpriced
		if dev < 0 {
			priceType = models.PriceUnderpriced
		}

		out = append(out, models.Anomaly{
			Type: models.AnomalyIVOutlier, Strike: p.Strike, DTE: p.DTE, Moneyness: p.Moneyness,
			ObservedIV: *p.AvgIV, ExpectedIV: expected, Deviation: dev, ZScore: z,
			Severity: severity, PriceType: priceType, Relevance: relevance,
			Volume: p.Volume, OpenInt: p.OpenInt, IsWing: isWing,
		})
	}
	return out
}

// expectedIV interpolates between the nearest lower and upper strike
// neighbors' IV; falls back to the bucket mean at either boundary.
func expectedIV(sorted []models.VolSurfacePoint, i int, bucketMean float64) float64 {
	switch {
	case i == 0 || i == len(sorted)-1:
		return bucketMean
	default:
		return (*sorted[i-1].AvgIV + *sorted[i+1].AvgIV) / 2
	}
}

// relevanceScore dampens volume and open interest through a log scale into
// a bounded [0,100] notability score, weighted 30/70 toward open interest.
func relevanceScore(volume int64, openInt float64) float64 {
	r := 0.3*math.Log10(1+float64(volume))*10 + 0.7*math.Log10(1+openInt)*10
	if r > 100 {
		r = 100
	}
	return r
}

func severityOf(z, relevance float64, isWing bool) models.Severity {
	az := math.Abs(z)
	if isWing && az < wingZCut {
		return models.SeverityLow
	}
	switch {
	case az > 3 && relevance > 30:
		return models.SeverityCritical
	case az > 3:
		return models.SeverityHigh
	case az > 2.5 || (az > 2 && relevance > 20):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// skewAnomalies flags (strike) pairs where a side's IV deviates unusually
// from its opposite side at the same strike, in z-score terms across the
// bucket's put-call spreads. Requires >=5 pairs (points with both sides
// quoted) in the bucket.
func skewAnomalies(dte int, points []models.VolSurfacePoint, zThreshold float64) []models.Anomaly {
	var pairs []models.VolSurfacePoint
	for _, p := range points {
		if p.CallIV != nil && p.PutIV != nil {
			pairs = append(pairs, p)
		}
	}
	if len(pairs) < minPairsPerDTE {
		return nil
	}

	spreads := make([]float64, len(pairs))
	for i, p := range pairs {
		spreads[i] = *p.PutIV - *p.CallIV
	}
	m := mean(spreads)
	sd := stddev(spreads, m)
	if sd == 0 {
		return nil
	}

	var out []models.Anomaly
	for i, p := range pairs {
		z := (spreads[i] - m) / sd
		if math.Abs(z) < zThreshold {
			continue
		}
		skewType := models.SkewPutPremium
		if spreads[i] < 0 {
			skewType = models.SkewCallPremium
		}
		relevance := relevanceScore(p.Volume, p.OpenInt)
		isWing := p.Strike == pairs[0].Strike || p.Strike == pairs[len(pairs)-1].Strike
		severity := severityOf(z, relevance, isWing)

		out = append(out, models.Anomaly{
			Type: models.AnomalySkewAnomaly, Strike: p.Strike, DTE: dte, Moneyness: p.Moneyness,
			ObservedIV: spreads[i], CallIV: *p.CallIV, PutIV: *p.PutIV,
			ExpectedIV: m, Deviation: spreads[i] - m, ZScore: z,
			Severity: severity, SkewType: skewType, Relevance: relevance,
			Volume: p.Volume, OpenInt: p.OpenInt, IsWing: isWing,
		})
	}
	return out
}
