// Package app wires every analytics component into a single running
// engine: ingestion fan-in, the 1Hz escape-detection tick, periodic
// snapshot dispatch, and the semantic query surface the HTTP gateway
// adapts into endpoints.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/cache"
	"github.com/halfpipe-dev/escapeengine/internal/config"
	"github.com/halfpipe-dev/escapeengine/internal/escape"
	"github.com/halfpipe-dev/escapeengine/internal/gex"
	"github.com/halfpipe-dev/escapeengine/internal/iceberg"
	"github.com/halfpipe-dev/escapeengine/internal/ingestion"
	"github.com/halfpipe-dev/escapeengine/internal/liquidation"
	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/halfpipe-dev/escapeengine/internal/optionstore"
	"github.com/halfpipe-dev/escapeengine/internal/orderbook"
	"github.com/halfpipe-dev/escapeengine/internal/regime"
	"github.com/halfpipe-dev/escapeengine/internal/sink"
	"github.com/halfpipe-dev/escapeengine/internal/strategy"
	"github.com/halfpipe-dev/escapeengine/internal/volanomaly"
	"github.com/halfpipe-dev/escapeengine/internal/volsurface"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Engine owns every derived-metric component and the goroutines that keep
// them fed. It is the single collaborator the HTTP gateway queries.
type Engine struct {
	cfg    *config.Config
	logger *logrus.Logger

	store    *optionstore.Store
	liq      *liquidation.Tracker
	book     *orderbook.Analyzer
	escapeIt *escape.Detector
	sink     sink.Sink
	cache    *cache.Cache

	mu         sync.RWMutex
	spot       float64
	spotAt     time.Time
	icebergBid *iceberg.Detector
	icebergAsk *iceberg.Detector

	lastDetection models.Detection
	lastRegime    models.RegimeLabel
	haveRegime    bool
}

// New builds an Engine from configuration and an external sink (pass
// sink.NewInMemorySink(0) when no external persistence is wired). The sink
// is wrapped with retry-with-backoff and a circuit breaker per write
// method, so a flaky external backend degrades to dropped writes instead
// of blocking the engine's goroutines.
func New(cfg *config.Config, logger *logrus.Logger, snapSink sink.Sink) *Engine {
	if snapSink == nil {
		snapSink = sink.NewInMemorySink(0)
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    optionstore.New(cfg.OptionStore.StaleTTL),
		liq:      liquidation.New(cfg.Liquidation.Retention, cfg.Liquidation.CascadeThreshold),
		book:     orderbook.New(time.Duration(cfg.OrderBook.HistoryWindowSecs)*time.Second, cfg.OrderBook.TopN, cfg.OrderBook.WallSizeMultiplier),
		escapeIt: escape.New(),
		sink:     sink.NewResilientSink(snapSink, log.New(logger.Writer(), "", 0)),
		cache:    cache.New(cfg.Cache.TTL),
	}
}

// Run consumes feed until ctx is canceled, dispatching updates into the
// component store and running the escape-detection tick and periodic
// snapshot dispatch as coordinated goroutines.
func (e *Engine) Run(ctx context.Context, feed ingestion.Feed) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.consumeFeed(ctx, feed) })
	g.Go(func() error { return e.runEscapeLoop(ctx) })
	g.Go(func() error { return e.runSnapshotLoop(ctx) })
	g.Go(func() error { return e.runRegimeWatch(ctx) })

	return g.Wait()
}

func (e *Engine) consumeFeed(ctx context.Context, feed ingestion.Feed) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-feed.Contracts:
			if !ok {
				feed.Contracts = nil
				continue
			}
			if err := e.store.UpsertContract(optionstore.ContractMeta(c)); err != nil {
				e.logger.WithError(err).Warn("rejected contract update")
			}
		case b, ok := <-feed.Greeks:
			if !ok {
				feed.Greeks = nil
				continue
			}
			updates := make([]optionstore.GreeksUpdate, len(b.Updates))
			for i, u := range b.Updates {
				updates[i] = optionstore.GreeksUpdate(u)
			}
			e.store.ApplyGreeks(updates)
		case t, ok := <-feed.Tickers:
			if !ok {
				feed.Tickers = nil
				continue
			}
			e.store.ApplyTicker(t.Symbol, t.Bid, t.Ask, t.Last)
			e.store.ApplyVolume(t.Symbol, t.Volume24h)
		case o, ok := <-feed.OI:
			if !ok {
				feed.OI = nil
				continue
			}
			e.store.ApplyOI(o.Symbol, o.OI)
		case ob, ok := <-feed.OrderBook:
			if !ok {
				feed.OrderBook = nil
				continue
			}
			e.book.Ingest(ob)
			e.updateIcebergs(ob)
		case lv, ok := <-feed.Liquidations:
			if !ok {
				feed.Liquidations = nil
				continue
			}
			e.liq.Record(lv)
		case s, ok := <-feed.Spot:
			if !ok {
				feed.Spot = nil
				continue
			}
			e.mu.Lock()
			e.spot = s.Price
			e.spotAt = s.Timestamp
			e.mu.Unlock()
		case err, ok := <-feed.Errors:
			if !ok {
				feed.Errors = nil
				continue
			}
			e.logger.WithError(err).Warn("ingestion adapter reported an error")
		}
	}
}

// updateIcebergs creates the bid/ask iceberg detectors on first use and
// feeds the snapshot to both.
func (e *Engine) updateIcebergs(ob models.OrderBookSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := iceberg.Config{
		RefillingMinOccurrences: e.cfg.Iceberg.RefillingMinOccurrences,
		RefillingMaxSize:        e.cfg.Iceberg.RefillingMaxSize,
		VolumeAnomalyRatio:      e.cfg.Iceberg.VolumeAnomalyRatio,
		RejectionMinCount:       e.cfg.Iceberg.RejectionMinCount,
		RegenMinDropPct:         e.cfg.Iceberg.RegenMinDropPct,
		RegenMinRecoveryPct:     e.cfg.Iceberg.RegenMinRecoveryPct,
		ConsistentSizeMinOccurs: e.cfg.Iceberg.ConsistentSizeMinOccurs,
	}
	if e.icebergBid == nil {
		e.icebergBid = iceberg.New(iceberg.SideBid, cfg)
	}
	if e.icebergAsk == nil {
		e.icebergAsk = iceberg.New(iceberg.SideAsk, cfg)
	}
	e.icebergBid.Observe(ob)
	e.icebergAsk.Observe(ob)
}

func (e *Engine) runEscapeLoop(ctx context.Context) error {
	interval := e.cfg.Escape.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.tickEscape()
		}
	}
}

func (e *Engine) tickEscape() {
	in, ok := e.buildEscapeInput()
	if !ok {
		return
	}
	det := e.escapeIt.Detect(in)

	e.mu.Lock()
	e.lastDetection = det
	e.mu.Unlock()
}

func (e *Engine) buildEscapeInput() (escape.Input, bool) {
	e.mu.RLock()
	spot := e.spot
	var icebergBidResult, icebergAskResult *iceberg.Result
	if e.icebergBid != nil {
		r := e.icebergBid.Detect()
		icebergBidResult = &r
	}
	if e.icebergAsk != nil {
		r := e.icebergAsk.Detect()
		icebergAskResult = &r
	}
	e.mu.RUnlock()

	if spot <= 0 {
		return escape.Input{}, false
	}

	profile, totals := gex.Profile(e.store.All(), spot)
	flip := gex.GammaFlip(profile)
	putWall, callWall := gex.Walls(profile, spot)
	bookMetrics := e.book.Analyze()
	liqStats := e.liq.Stats(time.Now().UTC())
	now := time.Now().UTC()

	in := escape.Input{
		Now:         now,
		Spot:        spot,
		GEXTotals:   totals,
		GammaFlip:   flip,
		PutWall:     putWall,
		CallWall:    callWall,
		Book:        bookMetrics,
		Liquidation: liqStats,
		IcebergBid:  icebergBidResult,
		IcebergAsk:  icebergAskResult,
		IsWeekend:   isWeekendUTC(now),
		IsOffHours:  isOffHoursUTC(now),
	}
	if !in.Validate() {
		return escape.Input{}, false
	}
	return in, true
}

// isWeekendUTC reports whether t falls on a Saturday or Sunday UTC.
func isWeekendUTC(t time.Time) bool {
	d := t.UTC().Weekday()
	return d == time.Saturday || d == time.Sunday
}

// isOffHoursUTC reports whether t falls outside 13:00-21:00 UTC, the
// window options market makers are most active (roughly the US cash
// session). Crypto trades continuously, so this only affects the
// market-regime indicator count, not data availability.
func isOffHoursUTC(t time.Time) bool {
	h := t.UTC().Hour()
	return h < 13 || h >= 21
}

// runRegimeWatch polls the classified regime at the cache TTL cadence and
// records every observed transition to the sink.
func (e *Engine) runRegimeWatch(ctx context.Context) error {
	interval := e.cfg.Cache.TTL
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m, err := e.GetMetrics()
			if err != nil {
				continue
			}
			e.mu.Lock()
			prev, had := e.lastRegime, e.haveRegime
			e.lastRegime, e.haveRegime = m.Regime, true
			e.mu.Unlock()

			if had && prev != m.Regime {
				if err := e.sink.WriteRegimeChange(ctx, prev, m.Regime); err != nil {
					e.logger.WithError(err).Warn("failed to record regime change")
				}
			}

			if anomalies, aerr := e.VolAnomalies(0, 0, "", ""); aerr == nil && len(anomalies) > 0 {
				if err := e.sink.WriteAnomalies(ctx, anomalies); err != nil {
					e.logger.WithError(err).Warn("failed to record anomalies")
				}
			}
		}
	}
}

func (e *Engine) runSnapshotLoop(ctx context.Context) error {
	interval := e.cfg.Cache.TTL
	if interval <= 0 {
		interval = 5 * time.Second
	}
	dispatcher := cache.NewDispatcher(snapshotSource{e}, e.sink, interval, func(err error) {
		e.logger.WithError(err).Warn("snapshot dispatch failed")
	})
	dispatcher.Run(ctx)
	return nil
}

// snapshotSource adapts Engine to cache.SnapshotSource.
type snapshotSource struct{ e *Engine }

func (s snapshotSource) ComposeSnapshot(_ time.Time) models.MarketSnapshot {
	return s.e.MarketSnapshot()
}

// MarketSnapshot assembles the periodic consolidated record described in
// spec §3.
func (e *Engine) MarketSnapshot() models.MarketSnapshot {
	e.mu.RLock()
	spot := e.spot
	e.mu.RUnlock()

	options := e.store.All()
	profile, totals := gex.Profile(options, spot)
	flip := gex.GammaFlip(profile)
	desc := regime.Classify(spot, totals, flip)
	maxPainStrike, breakdown := e.store.MaxPain()
	oiRatio, volRatio, sentiment := e.store.Sentiment()
	surface := volsurface.Build(options, spot, time.Now().UTC())
	anomalies := volanomaly.Detect(surface, e.cfg.Volatility.AnomalyZThreshold)

	maxGEXStrike := 0.0
	maxAbs := -1.0
	for _, p := range profile {
		if abs := p.TotalGEX; abs < 0 {
			if -abs > maxAbs {
				maxAbs = -abs
				maxGEXStrike = p.Strike
			}
		} else if abs > maxAbs {
			maxAbs = abs
			maxGEXStrike = p.Strike
		}
	}

	return models.MarketSnapshot{
		Timestamp:        time.Now().UTC(),
		Spot:             spot,
		TotalGEX:         totals,
		MaxGEXStrike:     maxGEXStrike,
		Regime:           desc.Label,
		MaxPainStrike:    maxPainStrike,
		MaxPainBreakdown: breakdown,
		Sentiment:        sentiment,
		PutCallOIRatio:   oiRatio,
		PutCallVolRatio:  volRatio,
		Surface:          &surface,
		Anomalies:        anomalies,
	}
}

// Status reports ingestion liveness and basic contract-table counts.
type Status struct {
	Spot           float64
	SpotAge        time.Duration
	ContractCount  int
	StaleCount     int
	UniqueStrikes  int
	UniqueExpiries int
}

// GetStatus implements spec §6's status() query.
func (e *Engine) GetStatus() Status {
	e.mu.RLock()
	spot := e.spot
	spotAt := e.spotAt
	e.mu.RUnlock()

	now := time.Now().UTC()
	age := time.Duration(0)
	if !spotAt.IsZero() {
		age = now.Sub(spotAt)
	}
	return Status{
		Spot:           spot,
		SpotAge:        age,
		ContractCount:  e.store.Count(),
		StaleCount:     e.store.StaleCount(now),
		UniqueStrikes:  len(e.store.UniqueStrikes()),
		UniqueExpiries: len(e.store.UniqueExpiries()),
	}
}

// cachedCompute runs compute through the metric cache, panicking never:
// compute errors simply surface to the caller.
func (e *Engine) cachedCompute(key string, compute func() (any, error)) (any, error) {
	return e.cache.Get(key, compute)
}

// Metrics bundles the top-level GEX metrics response (spec §6 metrics()).
type Metrics struct {
	Spot         float64
	TotalGEX     models.GEXTotals
	GammaProfile []models.GammaProfilePoint
	GammaFlip    models.GammaFlip
	PutWall      *models.Wall
	CallWall     *models.Wall
	MaxGEXStrike float64
	Regime       models.RegimeLabel
	RegimeDesc   regime.Description
}

// GetMetrics computes the consolidated GEX metrics bundle, cached for the
// configured metric-cache TTL.
func (e *Engine) GetMetrics() (Metrics, error) {
	v, err := e.cachedCompute("metrics", func() (any, error) {
		e.mu.RLock()
		spot := e.spot
		e.mu.RUnlock()
		if spot <= 0 {
			return nil, fmt.Errorf("no spot price available yet")
		}
		profile, totals := gex.Profile(e.store.All(), spot)
		flip := gex.GammaFlip(profile)
		putWall, callWall := gex.Walls(profile, spot)
		desc := regime.Classify(spot, totals, flip)

		maxGEXStrike := 0.0
		maxAbs := -1.0
		for _, p := range profile {
			a := p.TotalGEX
			if a < 0 {
				a = -a
			}
			if a > maxAbs {
				maxAbs = a
				maxGEXStrike = p.Strike
			}
		}

		return Metrics{
			Spot:         spot,
			TotalGEX:     totals,
			GammaProfile: profile,
			GammaFlip:    flip,
			PutWall:      putWall,
			CallWall:     callWall,
			MaxGEXStrike: maxGEXStrike,
			Regime:       desc.Label,
			RegimeDesc:   desc,
		}, nil
	})
	if err != nil {
		return Metrics{}, err
	}
	return v.(Metrics), nil
}

// GammaProfileFiltered applies the smart-range filter to the gamma
// profile. When auto is true, rangePct/gexThresholdPct are ignored and the
// configured defaults drive the filter; otherwise the explicit values
// (when positive) override them.
func (e *Engine) GammaProfileFiltered(rangePct, gexThresholdPct float64, auto bool) (gex.SmartRangeResult, error) {
	m, err := e.GetMetrics()
	if err != nil {
		return gex.SmartRangeResult{}, err
	}
	putZone, callZone := gex.WallZones(m.GammaProfile, e.cfg.GEX.WallZoneThreshold)

	opts := gex.SmartRangeOptions{RangePct: e.cfg.GEX.SmartRangePct, GEXPctThresh: e.cfg.GEX.SmartRangeGEXPct}
	if !auto {
		if rangePct > 0 {
			opts.RangePct = rangePct
		}
		if gexThresholdPct > 0 {
			opts.GEXPctThresh = gexThresholdPct
		}
	}
	return gex.SmartRange(m.GammaProfile, m.Spot, []*models.WallZone{putZone, callZone}, opts), nil
}

// WallZones returns the put/call wall-zone expansion for the current
// profile.
func (e *Engine) WallZones() (putZone, callZone *models.WallZone, err error) {
	m, err := e.GetMetrics()
	if err != nil {
		return nil, nil, err
	}
	putZone, callZone = gex.WallZones(m.GammaProfile, e.cfg.GEX.WallZoneThreshold)
	return putZone, callZone, nil
}

// VolSurface computes the current volatility surface, cached.
func (e *Engine) VolSurface() (models.VolSurface, error) {
	v, err := e.cachedCompute("vol_surface", func() (any, error) {
		e.mu.RLock()
		spot := e.spot
		e.mu.RUnlock()
		if spot <= 0 {
			return nil, fmt.Errorf("no spot price available yet")
		}
		return volsurface.Build(e.store.All(), spot, time.Now().UTC()), nil
	})
	if err != nil {
		return models.VolSurface{}, err
	}
	return v.(models.VolSurface), nil
}

// VolAnomalies returns anomalies detected over the current surface,
// filtered by zThreshold (falls back to config default), severity, and
// type, and capped at limit (0 means unlimited).
func (e *Engine) VolAnomalies(zThreshold float64, limit int, severity models.Severity, typ models.AnomalyType) ([]models.Anomaly, error) {
	surface, err := e.VolSurface()
	if err != nil {
		return nil, err
	}
	if zThreshold <= 0 {
		zThreshold = e.cfg.Volatility.AnomalyZThreshold
	}
	all := volanomaly.Detect(surface, zThreshold)

	out := make([]models.Anomaly, 0, len(all))
	for _, a := range all {
		if severity != "" && a.Severity != severity {
			continue
		}
		if typ != "" && a.Type != typ {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Options returns every tracked contract.
func (e *Engine) Options() []models.Option { return e.store.All() }

// OptionsByStrike returns every contract at a given strike.
func (e *Engine) OptionsByStrike(strike float64) []models.Option { return e.store.ByStrike(strike) }

// Strikes returns every distinct tracked strike, ascending.
func (e *Engine) Strikes() []float64 { return e.store.UniqueStrikes() }

// Expiries returns every distinct tracked expiry, ascending.
func (e *Engine) Expiries() []time.Time { return e.store.UniqueExpiries() }

// MaxPain returns the OI-maximizing strike and its top-10 breakdown.
func (e *Engine) MaxPain() (float64, []models.MaxPainEntry) { return e.store.MaxPain() }

// Sentiment returns put/call OI and volume ratios and the bucketed label.
func (e *Engine) Sentiment() (float64, float64, models.Sentiment) { return e.store.Sentiment() }

// LiquidationStats returns the current liquidation tracker snapshot.
func (e *Engine) LiquidationStats() liquidation.Stats { return e.liq.Stats(time.Now().UTC()) }

// LiquidationsRecent returns liquidations in the last `minutes`.
func (e *Engine) LiquidationsRecent(minutes int) []models.LiquidationEvent {
	now := time.Now().UTC()
	return e.liq.GetLiquidations(now.Add(-time.Duration(minutes)*time.Minute), now)
}

// LiquidationsEarly returns the early-window spike analysis over the last
// `minutes`.
func (e *Engine) LiquidationsEarly(minutes int) liquidation.SpikeAnalysis {
	return liquidation.AnalyzeSpike(e.LiquidationsRecent(minutes))
}

// LiquidationGrowth returns the bucketed trend analysis over recent
// liquidation history.
func (e *Engine) LiquidationGrowth() liquidation.TrendAnalysis {
	return liquidation.AnalyzeTrend(e.LiquidationsRecent(30))
}

// OrderBookMetrics returns the current order-book analysis tick.
func (e *Engine) OrderBookMetrics() orderbook.Metrics { return e.book.Analyze() }

// EscapeDetect returns the most recent fusion detection.
func (e *Engine) EscapeDetect() models.Detection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastDetection
}

// EscapeHistory returns detection history over the last `minutes`.
func (e *Engine) EscapeHistory(minutes int) []models.DetectionRecord {
	all := e.escapeIt.History()
	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	out := make([]models.DetectionRecord, 0, len(all))
	for _, r := range all {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// EscapeAlerts returns the bounded recent-alert ring.
func (e *Engine) EscapeAlerts() []models.Alert { return e.escapeIt.Alerts() }

// Volatility bucket cutoffs for the strategy recommender's VolBucket
// input. The spec names LOW/NORMAL/HIGH buckets without fixing cutoffs;
// 30%/60% annualized IV is this engine's choice for crypto majors.
const (
	volBucketLowCutoff  = 0.30
	volBucketHighCutoff = 0.60
)

func volBucket(atmIV float64) string {
	switch {
	case atmIV <= 0:
		return ""
	case atmIV < volBucketLowCutoff:
		return "LOW"
	case atmIV < volBucketHighCutoff:
		return "NORMAL"
	default:
		return "HIGH"
	}
}

func skewTypeOf(skew models.SkewMetrics) models.SkewType {
	if skew.PutSkew == nil || skew.CallSkew == nil {
		return ""
	}
	if *skew.PutSkew > *skew.CallSkew {
		return models.SkewPutPremium
	}
	return models.SkewCallPremium
}

// StrategyState assembles the current strategy.State from derived metrics
// for the recommender.
func (e *Engine) StrategyState() (strategy.State, error) {
	m, err := e.GetMetrics()
	if err != nil {
		return strategy.State{}, err
	}
	surface, err := e.VolSurface()
	if err != nil {
		return strategy.State{}, err
	}
	maxPainStrike, _ := e.store.MaxPain()
	_, _, sentiment := e.store.Sentiment()
	anomalies, _ := e.VolAnomalies(0, 0, "", "")

	return strategy.State{
		Regime:        m.Regime,
		VolBucket:     volBucket(surface.ATMIV),
		SkewType:      skewTypeOf(surface.Skew),
		GEXSign:       m.TotalGEX.NetGamma(),
		MaxPainStrike: maxPainStrike,
		Spot:          m.Spot,
		Sentiment:     sentiment,
		HasAnomaly:    len(anomalies) > 0,
	}, nil
}

// StrategiesRecommend returns the top-N strategy recommendations above
// minScore.
func (e *Engine) StrategiesRecommend(topN int, minScore float64) ([]strategy.Recommendation, error) {
	state, err := e.StrategyState()
	if err != nil {
		return nil, err
	}
	recs := strategy.Recommend(state, topN)
	if minScore <= 0 {
		return recs, nil
	}
	out := make([]strategy.Recommendation, 0, len(recs))
	for _, r := range recs {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out, nil
}
