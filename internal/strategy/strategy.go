// Package strategy scores a static catalog of options strategies against
// the current derived market state and returns the top-fit candidates with
// human-readable reasoning.
package strategy

import (
	"fmt"
	"sort"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

// Category tags a strategy's risk profile.
type Category string

// Categories.
const (
	CategoryNeutral     Category = "NEUTRAL"
	CategoryDirectional Category = "DIRECTIONAL"
	CategoryVolatility  Category = "VOLATILITY"
)

// IdealConditions narrows a strategy to the market states it fits.
type IdealConditions struct {
	Regimes       []models.RegimeLabel
	MinVolBucket  string // LOW/NORMAL/HIGH, or "" for any
	SkewBuckets   []models.SkewType
	GEXSign       string // POSITIVE/NEGATIVE, or "" for any
	Sentiments    []models.Sentiment
}

// Weights controls how heavily each scoring dimension counts toward a
// strategy's fit score.
type Weights struct {
	Regime          float64
	Volatility      float64
	Skew            float64
	GEX             float64
	MaxPainDistance float64
	Sentiment       float64
	AnomalyBonus    float64
}

// Strategy is one catalog entry.
type Strategy struct {
	Name       string
	Category   Category
	Conditions IdealConditions
	Weights    Weights
}

// Catalog is the static strategy set the recommender scores against.
var Catalog = []Strategy{
	{
		Name: "Iron Condor", Category: CategoryNeutral,
		Conditions: IdealConditions{
			Regimes: []models.RegimeLabel{models.RegimePositiveAboveFlip, models.RegimePositiveBelowFlip},
			MinVolBucket: "LOW", GEXSign: "POSITIVE",
			Sentiments: []models.Sentiment{models.SentimentNeutral},
		},
		Weights: Weights{Regime: 0.30, Volatility: 0.25, Skew: 0.10, GEX: 0.20, MaxPainDistance: 0.10, Sentiment: 0.05},
	},
	{
		Name: "Long Straddle", Category: CategoryVolatility,
		Conditions: IdealConditions{
			Regimes: []models.RegimeLabel{models.RegimeNegativeBelowFlip, models.RegimeNegativeAboveFlip},
			MinVolBucket: "HIGH", GEXSign: "NEGATIVE",
		},
		Weights: Weights{Regime: 0.30, Volatility: 0.30, GEX: 0.25, AnomalyBonus: 0.15},
	},
	{
		Name: "Put Credit Spread", Category: CategoryDirectional,
		Conditions: IdealConditions{
			Regimes: []models.RegimeLabel{models.RegimePositiveAboveFlip},
			SkewBuckets: []models.SkewType{models.SkewPutPremium},
			Sentiments: []models.Sentiment{models.SentimentBullish, models.SentimentVeryBullish},
		},
		Weights: Weights{Regime: 0.25, Skew: 0.30, Sentiment: 0.25, MaxPainDistance: 0.20},
	},
	{
		Name: "Call Credit Spread", Category: CategoryDirectional,
		Conditions: IdealConditions{
			Regimes: []models.RegimeLabel{models.RegimeNegativeBelowFlip},
			SkewBuckets: []models.SkewType{models.SkewCallPremium},
			Sentiments: []models.Sentiment{models.SentimentBearish, models.SentimentVeryBearish},
		},
		Weights: Weights{Regime: 0.25, Skew: 0.30, Sentiment: 0.25, MaxPainDistance: 0.20},
	},
	{
		Name: "Calendar Spread", Category: CategoryVolatility,
		Conditions: IdealConditions{
			Regimes: []models.RegimeLabel{models.RegimePositiveBelowFlip, models.RegimeNegativeAboveFlip},
			MinVolBucket: "NORMAL",
		},
		Weights: Weights{Regime: 0.35, Volatility: 0.35, GEX: 0.15, MaxPainDistance: 0.15},
	},
}

// State is the derived market state the recommender scores against.
type State struct {
	Regime         models.RegimeLabel
	VolBucket      string // LOW/NORMAL/HIGH
	SkewType       models.SkewType
	GEXSign        string
	MaxPainStrike  float64
	Spot           float64
	Sentiment      models.Sentiment
	HasAnomaly     bool
}

// Recommendation is a single scored catalog entry with its fit bucket and
// explanation.
type Recommendation struct {
	Strategy  Strategy
	Score     float64 // 0-100
	Fit       string  // EXCELLENT/GOOD/FAIR/POOR
	Reasoning []string
}

// Recommend scores the full catalog against state and returns the top n
// by score, descending.
func Recommend(state State, n int) []Recommendation {
	recs := make([]Recommendation, 0, len(Catalog))
	for _, s := range Catalog {
		recs = append(recs, score(s, state))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if n > 0 && n < len(recs) {
		recs = recs[:n]
	}
	return recs
}

func score(s Strategy, state State) Recommendation {
	var total float64
	var reasons []string

	if contains(s.Conditions.Regimes, state.Regime) {
		total += s.Weights.Regime * 100
		reasons = append(reasons, fmt.Sprintf("regime %s matches strategy's ideal conditions", state.Regime))
	}

	if s.Conditions.MinVolBucket == "" || s.Conditions.MinVolBucket == state.VolBucket {
		total += s.Weights.Volatility * 100
		if s.Conditions.MinVolBucket != "" {
			reasons = append(reasons, fmt.Sprintf("volatility bucket %s fits", state.VolBucket))
		}
	}

	if containsSkew(s.Conditions.SkewBuckets, state.SkewType) {
		total += s.Weights.Skew * 100
		reasons = append(reasons, fmt.Sprintf("skew type %s favors this structure", state.SkewType))
	}

	if s.Conditions.GEXSign == "" || s.Conditions.GEXSign == state.GEXSign {
		total += s.Weights.GEX * 100
		if s.Conditions.GEXSign != "" {
			reasons = append(reasons, fmt.Sprintf("net GEX sign %s aligns", state.GEXSign))
		}
	}

	if state.MaxPainStrike > 0 && state.Spot > 0 {
		distPct := abs((state.MaxPainStrike - state.Spot) / state.Spot)
		if distPct < 0.02 {
			total += s.Weights.MaxPainDistance * 100
			reasons = append(reasons, "spot trading near max pain")
		}
	}

	if containsSentiment(s.Conditions.Sentiments, state.Sentiment) {
		total += s.Weights.Sentiment * 100
		reasons = append(reasons, fmt.Sprintf("sentiment %s supports this view", state.Sentiment))
	}

	if state.HasAnomaly && s.Weights.AnomalyBonus > 0 {
		total += s.Weights.AnomalyBonus * 100
		reasons = append(reasons, "active volatility anomaly supports this trade")
	}

	if total > 100 {
		total = 100
	}

	return Recommendation{Strategy: s, Score: total, Fit: fitBucket(total), Reasoning: reasons}
}

func fitBucket(score float64) string {
	switch {
	case score >= 80:
		return "EXCELLENT"
	case score >= 65:
		return "GOOD"
	case score >= 50:
		return "FAIR"
	default:
		return "POOR"
	}
}

func contains(list []models.RegimeLabel, v models.RegimeLabel) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}

func containsSkew(list []models.SkewType, v models.SkewType) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}

func containsSentiment(list []models.Sentiment, v models.Sentiment) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
