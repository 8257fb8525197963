package strategy

import (
	"testing"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRecommendOrdersByScoreDescending(t *testing.T) {
	state := State{
		Regime: models.RegimePositiveAboveFlip, VolBucket: "LOW", GEXSign: "POSITIVE",
		Sentiment: models.SentimentNeutral, Spot: 100000, MaxPainStrike: 100000,
	}
	recs := Recommend(state, 3)
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		require.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score)
	}
	require.Equal(t, "Iron Condor", recs[0].Strategy.Name)
	require.Equal(t, "EXCELLENT", recs[0].Fit)
}

func TestRecommendLimitsToN(t *testing.T) {
	recs := Recommend(State{}, 2)
	require.Len(t, recs, 2)
}

func TestFitBuckets(t *testing.T) {
	require.Equal(t, "EXCELLENT", fitBucket(85))
	require.Equal(t, "GOOD", fitBucket(70))
	require.Equal(t, "FAIR", fitBucket(55))
	require.Equal(t, "POOR", fitBucket(10))
}

func TestAnomalyBonusAppliesOnlyWhenPresent(t *testing.T) {
	state := State{Regime: models.RegimeNegativeBelowFlip, VolBucket: "HIGH", GEXSign: "NEGATIVE"}
	without := score(Catalog[1], state)
	state.HasAnomaly = true
	with := score(Catalog[1], state)
	require.Greater(t, with.Score, without.Score)
}
