package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/halfpipe-dev/escapeengine/internal/app"
	"github.com/halfpipe-dev/escapeengine/internal/gex"
	"github.com/halfpipe-dev/escapeengine/internal/liquidation"
	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/halfpipe-dev/escapeengine/internal/orderbook"
	"github.com/halfpipe-dev/escapeengine/internal/strategy"
)

// EngineQuerier is the query surface a *app.Engine exposes to the gateway.
// Declared here rather than embedding *app.Engine directly so handlers can
// be exercised against a fake in tests.
type EngineQuerier interface {
	GetStatus() app.Status
	GetMetrics() (app.Metrics, error)
	GammaProfileFiltered(rangePct, gexThresholdPct float64, auto bool) (gex.SmartRangeResult, error)
	WallZones() (putZone, callZone *models.WallZone, err error)
	VolSurface() (models.VolSurface, error)
	VolAnomalies(zThreshold float64, limit int, severity models.Severity, typ models.AnomalyType) ([]models.Anomaly, error)
	Options() []models.Option
	OptionsByStrike(strike float64) []models.Option
	Strikes() []float64
	Expiries() []time.Time
	MaxPain() (float64, []models.MaxPainEntry)
	Sentiment() (float64, float64, models.Sentiment)
	LiquidationStats() liquidation.Stats
	LiquidationsRecent(minutes int) []models.LiquidationEvent
	LiquidationsEarly(minutes int) liquidation.SpikeAnalysis
	LiquidationGrowth() liquidation.TrendAnalysis
	OrderBookMetrics() orderbook.Metrics
	EscapeDetect() models.Detection
	EscapeHistory(minutes int) []models.DetectionRecord
	EscapeAlerts() []models.Alert
	StrategiesRecommend(topN int, minScore float64) ([]strategy.Recommendation, error)
	MarketSnapshot() models.MarketSnapshot
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.GetStatus())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMetrics()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, m)
}

func (s *Server) handleGammaProfile(w http.ResponseWriter, r *http.Request) {
	auto := queryBool(r, "auto")
	rangePct := queryFloat(r, "range_pct", 0)
	gexThresh := queryFloat(r, "gex_threshold_pct", 0)
	result, err := s.engine.GammaProfileFiltered(rangePct, gexThresh, auto)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, result)
}

func (s *Server) handleTotalGEX(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMetrics()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, m.TotalGEX)
}

func (s *Server) handleGammaFlip(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMetrics()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, m.GammaFlip)
}

func (s *Server) handleWalls(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMetrics()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"put_wall": m.PutWall, "call_wall": m.CallWall})
}

func (s *Server) handleWallZones(w http.ResponseWriter, r *http.Request) {
	putZone, callZone, err := s.engine.WallZones()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"put_zone": putZone, "call_zone": callZone})
}

func (s *Server) handleVolSurface(w http.ResponseWriter, r *http.Request) {
	surface, err := s.engine.VolSurface()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, surface)
}

func (s *Server) handleVolAnomalies(w http.ResponseWriter, r *http.Request) {
	zThresh := queryFloat(r, "threshold", 0)
	limit := queryInt(r, "limit", 0)
	severity := models.Severity(strings.ToUpper(r.URL.Query().Get("severity")))
	typ := models.AnomalyType(strings.ToUpper(r.URL.Query().Get("type")))
	anomalies, err := s.engine.VolAnomalies(zThresh, limit, severity, typ)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, anomalies)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.Options())
}

func (s *Server) handleOptionsByStrike(w http.ResponseWriter, r *http.Request) {
	strike, ok := handlePathFloat(w, r, "strike")
	if !ok {
		return
	}
	writeOK(w, s.engine.OptionsByStrike(strike))
}

func (s *Server) handleStrikes(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.Strikes())
}

func (s *Server) handleExpiries(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.Expiries())
}

func (s *Server) handleMaxPain(w http.ResponseWriter, r *http.Request) {
	strike, breakdown := s.engine.MaxPain()
	writeOK(w, map[string]any{"strike": strike, "breakdown": breakdown})
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	oiRatio, volRatio, label := s.engine.Sentiment()
	writeOK(w, map[string]any{"oi_ratio": oiRatio, "volume_ratio": volRatio, "label": label})
}

func (s *Server) handleLiquidationStats(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.LiquidationStats())
}

func (s *Server) handleLiquidationEnergy(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.LiquidationStats()
	writeOK(w, map[string]any{"energy_score": stats.EnergyScore, "energy_bucket": stats.EnergyBucket})
}

func (s *Server) handleLiquidationSummary(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.LiquidationStats())
}

func (s *Server) handleLiquidationsRecent(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", 60)
	writeOK(w, s.engine.LiquidationsRecent(minutes))
}

func (s *Server) handleLiquidationsEarly(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", 5)
	writeOK(w, s.engine.LiquidationsEarly(minutes))
}

func (s *Server) handleLiquidationGrowth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.LiquidationGrowth())
}

func (s *Server) handleLiquidationCascade(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.LiquidationStats()
	writeOK(w, map[string]any{"cascade_active": stats.CascadeActive})
}

func (s *Server) handleOrderBookMetrics(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.OrderBookMetrics())
}

func (s *Server) handleOrderBookImbalance(w http.ResponseWriter, r *http.Request) {
	m := s.engine.OrderBookMetrics()
	writeOK(w, map[string]any{
		"book_imbalance": m.BookImbalance,
		"direction":      m.Direction,
		"strength":       m.Strength,
		"persistence":    m.Persistence,
	})
}

func (s *Server) handleOrderBookDepth(w http.ResponseWriter, r *http.Request) {
	m := s.engine.OrderBookMetrics()
	writeOK(w, map[string]any{
		"bid_depth":    m.BidDepth,
		"ask_depth":    m.AskDepth,
		"depth_ratio":  m.DepthRatio,
		"depth_change": m.DepthChange,
	})
}

func (s *Server) handleOrderBookSpread(w http.ResponseWriter, r *http.Request) {
	m := s.engine.OrderBookMetrics()
	writeOK(w, map[string]any{
		"spread_abs":     m.SpreadAbs,
		"spread_pct":     m.SpreadPct,
		"spread_quality": m.SpreadQuality,
	})
}

func (s *Server) handleOrderBookWalls(w http.ResponseWriter, r *http.Request) {
	m := s.engine.OrderBookMetrics()
	writeOK(w, m.Walls)
}

func (s *Server) handleOrderBookEnergy(w http.ResponseWriter, r *http.Request) {
	m := s.engine.OrderBookMetrics()
	writeOK(w, map[string]any{"sustained_energy": m.SustainedEnergy, "energy_bucket": m.EnergyBucket})
}

func (s *Server) handleOrderBookHistory(w http.ResponseWriter, r *http.Request) {
	m := s.engine.OrderBookMetrics()
	writeOK(w, map[string]any{"timestamp": m.Timestamp, "pulse": m.Pulse})
}

func (s *Server) handleEscapeDetect(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.EscapeDetect())
}

func (s *Server) handleEscapeProbability(w http.ResponseWriter, r *http.Request) {
	det := s.engine.EscapeDetect()
	writeOK(w, map[string]any{"p_escape": det.PEscape, "type": det.Type})
}

func (s *Server) handleEscapeEnergy(w http.ResponseWriter, r *http.Request) {
	det := s.engine.EscapeDetect()
	writeOK(w, map[string]any{
		"sustained_energy": det.SustainedEnergy,
		"injected_energy":  det.InjectedEnergy,
		"total_energy":     det.TotalEnergy,
	})
}

func (s *Server) handleEscapeConditions(w http.ResponseWriter, r *http.Request) {
	det := s.engine.EscapeDetect()
	writeOK(w, det.ConditionChecks)
}

func (s *Server) handleEscapeHistory(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", 60)
	writeOK(w, s.engine.EscapeHistory(minutes))
}

func (s *Server) handleEscapeSummary(w http.ResponseWriter, r *http.Request) {
	det := s.engine.EscapeDetect()
	history := s.engine.EscapeHistory(60)
	writeOK(w, map[string]any{"current": det, "recent_count": len(history)})
}

func (s *Server) handleEscapeAlerts(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.EscapeAlerts())
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	topN := queryInt(r, "top_n", 0)
	minScore := queryFloat(r, "min_score", 0)
	recs, err := s.engine.StrategiesRecommend(topN, minScore)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, recs)
}

// strategySlug derives a URL-safe lookup key from a catalog strategy name
// (e.g. "Iron Condor" -> "iron-condor"); the catalog has no id field.
func strategySlug(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}

func (s *Server) handleStrategyByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recs, err := s.engine.StrategiesRecommend(0, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, rec := range recs {
		if strategySlug(rec.Strategy.Name) == id {
			writeOK(w, rec)
			return
		}
	}
	writeEnvelope(w, http.StatusNotFound, nil, fmt.Errorf("no strategy with id %q", id))
}

func (s *Server) handleHistoryMarket(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.engine.MarketSnapshot())
}

func (s *Server) handleHistoryRegime(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMetrics()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"regime": m.Regime, "description": m.RegimeDesc})
}
