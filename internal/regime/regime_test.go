package regime

import (
	"testing"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClassifyAllFourQuadrants(t *testing.T) {
	flip := models.GammaFlip{Level: 100000}
	require.Equal(t, models.RegimePositiveAboveFlip, Classify(101000, models.GEXTotals{Total: 1}, flip).Label)
	require.Equal(t, models.RegimePositiveBelowFlip, Classify(99000, models.GEXTotals{Total: 1}, flip).Label)
	require.Equal(t, models.RegimeNegativeBelowFlip, Classify(99000, models.GEXTotals{Total: -1}, flip).Label)
	require.Equal(t, models.RegimeNegativeAboveFlip, Classify(101000, models.GEXTotals{Total: -1}, flip).Label)
}

func TestAnalyzeDistributionEmpty(t *testing.T) {
	require.Equal(t, Distribution{}, AnalyzeDistribution(nil))
}

func TestAnalyzeDistributionSignificantAndRange(t *testing.T) {
	profile := []models.GammaProfilePoint{
		{Strike: 95000, TotalGEX: -1000},
		{Strike: 98000, TotalGEX: -10},
		{Strike: 100000, TotalGEX: -5},
		{Strike: 102000, TotalGEX: 10},
		{Strike: 105000, TotalGEX: 1000},
	}
	dist := AnalyzeDistribution(profile)
	require.Contains(t, dist.SignificantStrikes, 95000.0)
	require.Contains(t, dist.SignificantStrikes, 105000.0)
	require.Equal(t, 95000.0, dist.RangeLow)
	require.Equal(t, 105000.0, dist.RangeHigh)
}
