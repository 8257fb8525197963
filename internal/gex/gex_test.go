package gex

import (
	"testing"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func opt(side models.Side, strike, gamma, oi float64) models.Option {
	return models.Option{Strike: strike, Side: side, Gamma: gamma, OpenInterest: oi, ContractSize: 1}
}

func TestPerOptionSkipsZeroGammaOrOI(t *testing.T) {
	require.Equal(t, 0.0, PerOption(opt(models.SideCall, 100, 0, 10), 100))
	require.Equal(t, 0.0, PerOption(opt(models.SideCall, 100, 0.01, 0), 100))
}

func TestPerOptionDefaultsContractSize(t *testing.T) {
	o := opt(models.SideCall, 100, 0.01, 10)
	o.ContractSize = 0
	require.Equal(t, PerOption(opt(models.SideCall, 100, 0.01, 10), 100), PerOption(o, 100))
}

// TestProfileAggregate reproduces spec scenario 1: calls=1.0e8, puts=-5.0e7,
// total=5.0e7.
func TestProfileAggregate(t *testing.T) {
	spot := 100000.0
	options := []models.Option{
		opt(models.SideCall, 100000, 0.002, 500),
		opt(models.SidePut, 100000, 0.002, 250),
	}
	_, totals := Profile(options, spot)
	require.InDelta(t, 1.0e8, totals.Calls, 1e6)
	require.InDelta(t, -5.0e7, totals.Puts, 1e6)
	require.InDelta(t, 5.0e7, totals.Total, 1e6)
}

func TestGammaFlipEmptyProfile(t *testing.T) {
	flip := GammaFlip(nil)
	require.Equal(t, models.FlipConfidenceNone, flip.Confidence)
}

// TestGammaFlipInterpolatesAcrossSignChange reproduces spec scenario 2:
// strikes 99000 (+10) and 101000 (-10) interpolate to level 100000 at HIGH
// confidence.
func TestGammaFlipInterpolatesAcrossSignChange(t *testing.T) {
	profile := []models.GammaProfilePoint{
		{Strike: 99000, TotalGEX: 10},
		{Strike: 101000, TotalGEX: -10},
	}
	flip := GammaFlip(profile)
	require.Equal(t, models.FlipConfidenceHigh, flip.Confidence)
	require.InDelta(t, 100000, flip.Level, 1)
}

func TestGammaFlipFallsBackToMediumConfidence(t *testing.T) {
	profile := []models.GammaProfilePoint{
		{Strike: 99000, TotalGEX: 50},
		{Strike: 100000, TotalGEX: 5},
		{Strike: 101000, TotalGEX: 40},
	}
	flip := GammaFlip(profile)
	require.Equal(t, models.FlipConfidenceMedium, flip.Confidence)
	require.Equal(t, 100000.0, flip.Level)
}

func TestWalls(t *testing.T) {
	profile := []models.GammaProfilePoint{
		{Strike: 98000, PutGEX: -100, CallGEX: 20},
		{Strike: 99000, PutGEX: -90, CallGEX: 30},
		{Strike: 100000, PutGEX: -10, CallGEX: 200},
	}
	put, call := Walls(profile, 100000)
	require.Equal(t, 98000.0, put.Strike)
	require.Equal(t, 100000.0, call.Strike)
	require.Equal(t, -2000.0, put.Distance)
}

// TestWallZones reproduces spec scenario 3: peak -100 at strike 98000,
// threshold 0.7, contributors {98000, 99000}, total_zone_gex=-190.
func TestWallZones(t *testing.T) {
	profile := []models.GammaProfilePoint{
		{Strike: 97000, PutGEX: -50, CallGEX: 5},
		{Strike: 98000, PutGEX: -100, CallGEX: 10},
		{Strike: 99000, PutGEX: -90, CallGEX: 15},
		{Strike: 100000, PutGEX: -10, CallGEX: 200},
	}
	putZone, _ := WallZones(profile, 0.7)
	require.Equal(t, 98000.0, putZone.PeakStrike)
	require.Equal(t, -100.0, putZone.PeakGEX)
	require.Len(t, putZone.ZoneStrikes, 2)
	require.Equal(t, 98000.0, putZone.ZoneStrikes[0].Strike)
	require.Equal(t, 99000.0, putZone.ZoneStrikes[1].Strike)
	require.InDelta(t, -190.0, putZone.TotalZoneGEX, 0.001)
}

func TestWallZonesDefaultsThreshold(t *testing.T) {
	profile := []models.GammaProfilePoint{
		{Strike: 100000, PutGEX: -100, CallGEX: 10},
	}
	putZone, callZone := WallZones(profile, 0)
	require.Equal(t, DefaultWallZoneThreshold, putZone.Threshold)
	require.Equal(t, DefaultWallZoneThreshold, callZone.Threshold)
}

func TestSmartRangeFiltersAndExpandsForZones(t *testing.T) {
	spot := 100000.0
	profile := []models.GammaProfilePoint{
		{Strike: 60000, PutGEX: -1, CallGEX: 1},
		{Strike: 74000, PutGEX: -80, CallGEX: 1},
		{Strike: 98000, PutGEX: -100, CallGEX: 10},
		{Strike: 99000, PutGEX: -90, CallGEX: 15},
		{Strike: 100000, PutGEX: -10, CallGEX: 200},
	}
	putZone, callZone := WallZones(profile, 0.7)
	result := SmartRange(profile, spot, []*models.WallZone{putZone, callZone}, SmartRangeOptions{})
	require.Less(t, result.LowBound, 70000.0)
	require.NotContains(t, strikesOf(result.Profile), 60000.0)
	require.Contains(t, strikesOf(result.Profile), 98000.0)
	require.Greater(t, result.CompressionRatio, 0.0)
	require.LessOrEqual(t, result.CompressionRatio, 1.0)
}

func strikesOf(profile []models.GammaProfilePoint) []float64 {
	out := make([]float64, len(profile))
	for i, p := range profile {
		out[i] = p.Strike
	}
	return out
}
