// Package regime derives the dealer-positioning regime label from spot,
// net gamma exposure, and the gamma-flip level, and summarizes the
// significant-level distribution of the gamma profile.
package regime

import (
	"math"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

// Description is the fixed narrative text attached to a regime label.
type Description struct {
	Label                models.RegimeLabel
	Summary              string
	Implication          string
	VolatilityExpectation string
}

var descriptions = map[models.RegimeLabel]Description{
	models.RegimePositiveAboveFlip: {
		Label:   models.RegimePositiveAboveFlip,
		Summary: "Dealers are long gamma above the flip level.",
		Implication: "Dealer hedging dampens price moves; expect range-bound, mean-reverting action.",
		VolatilityExpectation: "SUPPRESSED",
	},
	models.RegimePositiveBelowFlip: {
		Label:   models.RegimePositiveBelowFlip,
		Summary: "Dealers are long gamma but price sits below the flip level.",
		Implication: "Hedging still dampens moves, but the regime is closer to its boundary than the above-flip case.",
		VolatilityExpectation: "MODERATE",
	},
	models.RegimeNegativeBelowFlip: {
		Label:   models.RegimeNegativeBelowFlip,
		Summary: "Dealers are short gamma below the flip level.",
		Implication: "Dealer hedging amplifies moves; expect trending, accelerating price action.",
		VolatilityExpectation: "AMPLIFIED",
	},
	models.RegimeNegativeAboveFlip: {
		Label:   models.RegimeNegativeAboveFlip,
		Summary: "Dealers are short gamma but price sits above the flip level.",
		Implication: "Hedging amplifies moves; the regime is closer to its boundary than the below-flip case.",
		VolatilityExpectation: "ELEVATED",
	},
}

// Classify derives the regime label from spot vs. gamma flip and the net
// GEX sign.
func Classify(spot float64, totals models.GEXTotals, flip models.GammaFlip) Description {
	positive := totals.Total >= 0
	aboveFlip := spot >= flip.Level

	var label models.RegimeLabel
	switch {
	case positive && aboveFlip:
		label = models.RegimePositiveAboveFlip
	case positive && !aboveFlip:
		label = models.RegimePositiveBelowFlip
	case !positive && !aboveFlip:
		label = models.RegimeNegativeBelowFlip
	default:
		label = models.RegimeNegativeAboveFlip
	}
	return descriptions[label]
}

// Distribution summarizes the significant-level structure of a gamma
// profile: strikes whose |total_gex| exceeds twice the mean |total_gex|,
// and the probable trading range bounded by the negative/positive GEX
// strike extremes.
type Distribution struct {
	SignificantStrikes []float64
	RangeLow           float64
	RangeHigh          float64
}

// AnalyzeDistribution flags strikes with |total_gex| > 2*mean(|total_gex|)
// as significant, and derives a probable trading range from the lowest
// negative-GEX strike to the highest positive-GEX strike.
func AnalyzeDistribution(profile []models.GammaProfilePoint) Distribution {
	if len(profile) == 0 {
		return Distribution{}
	}

	sum := 0.0
	for _, p := range profile {
		sum += math.Abs(p.TotalGEX)
	}
	meanAbs := sum / float64(len(profile))
	cutoff := 2 * meanAbs

	var significant []float64
	var lowNeg, highPos float64
	haveLow, havePos := false, false

	for _, p := range profile {
		if math.Abs(p.TotalGEX) > cutoff {
			significant = append(significant, p.Strike)
		}
		if p.TotalGEX < 0 {
			if !haveLow || p.Strike < lowNeg {
				lowNeg = p.Strike
				haveLow = true
			}
		}
		if p.TotalGEX > 0 {
			if !havePos || p.Strike > highPos {
				highPos = p.Strike
				havePos = true
			}
		}
	}

	dist := Distribution{SignificantStrikes: significant}
	if haveLow {
		dist.RangeLow = lowNeg
	}
	if havePos {
		dist.RangeHigh = highPos
	}
	return dist
}
