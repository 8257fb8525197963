package volanomaly

import (
	"testing"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func iv(v float64) *float64 { return &v }

func TestDetectRequiresMinimumPoints(t *testing.T) {
	surface := models.VolSurface{Points: []models.VolSurfacePoint{
		{Strike: 100, DTE: 7, AvgIV: iv(0.5)},
		{Strike: 105, DTE: 7, AvgIV: iv(0.5)},
	}}
	require.Empty(t, Detect(surface, 2.0))
}

func TestDetectFindsIVOutlier(t *testing.T) {
	points := []models.VolSurfacePoint{
		{Strike: 80, DTE: 7, AvgIV: iv(0.50)},
		{Strike: 90, DTE: 7, AvgIV: iv(0.50)},
		{Strike: 100, DTE: 7, AvgIV: iv(0.50)},
		{Strike: 110, DTE: 7, AvgIV: iv(2.50), OpenInt: 1000, Volume: 500},
		{Strike: 120, DTE: 7, AvgIV: iv(0.50)},
	}
	surface := models.VolSurface{Points: points}
	anomalies := Detect(surface, 2.0)
	require.NotEmpty(t, anomalies)
	found := false
	for _, a := range anomalies {
		if a.Type == models.AnomalyIVOutlier && a.Strike == 110 {
			found = true
			require.Equal(t, models.PriceOverpriced, a.PriceType)
		}
	}
	require.True(t, found)
}

func TestDetectFindsSkewAnomaly(t *testing.T) {
	mk := func(strike float64, call, put float64) models.VolSurfacePoint {
		return models.VolSurfacePoint{Strike: strike, DTE: 7, CallIV: iv(call), PutIV: iv(put), AvgIV: iv((call + put) / 2)}
	}
	points := []models.VolSurfacePoint{
		mk(80, 0.50, 0.52),
		mk(90, 0.50, 0.52),
		mk(100, 0.50, 0.52),
		mk(110, 0.50, 0.90), // outsized put premium
		mk(120, 0.50, 0.52),
	}
	surface := models.VolSurface{Points: points}
	anomalies := Detect(surface, 1.5)
	found := false
	for _, a := range anomalies {
		if a.Type == models.AnomalySkewAnomaly && a.Strike == 110 {
			found = true
			require.Equal(t, models.SkewPutPremium, a.SkewType)
		}
	}
	require.True(t, found)
}

func TestSeverityNaturalWingIsLow(t *testing.T) {
	require.Equal(t, models.SeverityLow, severityOf(2.0, 1.0, true))
}

func TestSeverityWingBeyondCutFollowsNormalRules(t *testing.T) {
	require.Equal(t, models.SeverityHigh, severityOf(5.0, 1.0, true))
}

func TestRelevanceScoreMatchesWorkedExample(t *testing.T) {
	require.InDelta(t, 36.3, relevanceScore(1000, 8000), 0.5)
}

func TestOrderingByZAndRelevance(t *testing.T) {
	a := models.Anomaly{ZScore: 3.0, Relevance: 100}
	b := models.Anomaly{ZScore: 2.9, Relevance: 1}
	require.Greater(t, rankKey(a), rankKey(b))
}
