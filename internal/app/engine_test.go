package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/config"
	"github.com/halfpipe-dev/escapeengine/internal/ingestion"
	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/halfpipe-dev/escapeengine/internal/optionstore"
	"github.com/halfpipe-dev/escapeengine/internal/sink"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Normalize()
	return cfg
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func mustContractMeta(t *testing.T, symbol string) optionstore.ContractMeta {
	t.Helper()
	underlying, expiry, strike, side, err := optionstore.DecodeSymbol(symbol)
	require.NoError(t, err)
	return optionstore.ContractMeta{Symbol: symbol, Underlying: underlying, Strike: strike, Expiry: expiry, Side: side, ContractSize: 1}
}

func seedEngine(t *testing.T, e *Engine, spot float64) {
	t.Helper()
	require.NoError(t, e.store.UpsertContract(mustContractMeta(t, "BTC-250214-45000-C")))
	require.NoError(t, e.store.UpsertContract(mustContractMeta(t, "BTC-250214-45000-P")))
	e.store.ApplyGreeks([]optionstore.GreeksUpdate{
		{Symbol: "BTC-250214-45000-C", Gamma: 0.0002, MarkIV: 0.5},
		{Symbol: "BTC-250214-45000-P", Gamma: 0.0003, MarkIV: 0.55},
	})
	e.store.ApplyOI("BTC-250214-45000-C", 100)
	e.store.ApplyOI("BTC-250214-45000-P", 150)
	e.mu.Lock()
	e.spot = spot
	e.spotAt = time.Now().UTC()
	e.mu.Unlock()
}

func TestNewEngineDefaultsSink(t *testing.T) {
	e := New(testConfig(), testLogger(), nil)
	require.NotNil(t, e.sink)
}

func TestGetMetricsRequiresSpot(t *testing.T) {
	e := New(testConfig(), testLogger(), nil)
	_, err := e.GetMetrics()
	require.Error(t, err)
}

func TestGetMetricsComputesFromStore(t *testing.T) {
	e := New(testConfig(), testLogger(), nil)
	seedEngine(t, e, 45000)

	m, err := e.GetMetrics()
	require.NoError(t, err)
	require.Equal(t, 45000.0, m.Spot)
	require.Len(t, m.GammaProfile, 1)
	require.NotZero(t, m.TotalGEX.Total)
}

func TestMaxPainAndSentiment(t *testing.T) {
	e := New(testConfig(), testLogger(), nil)
	seedEngine(t, e, 45000)

	strike, breakdown := e.MaxPain()
	require.Equal(t, 45000.0, strike)
	require.Len(t, breakdown, 1)

	oiRatio, _, label := e.Sentiment()
	require.InDelta(t, 1.5, oiRatio, 1e-9)
	require.Equal(t, models.SentimentVeryBearish, label)
}

func TestGetStatusReportsCounts(t *testing.T) {
	e := New(testConfig(), testLogger(), nil)
	seedEngine(t, e, 45000)

	st := e.GetStatus()
	require.Equal(t, 45000.0, st.Spot)
	require.Equal(t, 2, st.ContractCount)
	require.Equal(t, 1, st.UniqueStrikes)
}

func TestConsumeFeedAppliesUpdates(t *testing.T) {
	e := New(testConfig(), testLogger(), nil)
	contracts := make(chan ingestion.ContractUpdate, 1)
	spotCh := make(chan ingestion.SpotUpdate, 1)
	feed := ingestion.NewFeed(contracts, nil, nil, nil, nil, nil, spotCh, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.consumeFeed(ctx, feed) }()

	meta := mustContractMeta(t, "BTC-250214-46000-C")
	contracts <- ingestion.ContractUpdate{Symbol: meta.Symbol, Underlying: meta.Underlying, Strike: meta.Strike, Expiry: meta.Expiry, Side: meta.Side, ContractSize: meta.ContractSize}
	spotCh <- ingestion.SpotUpdate{Timestamp: time.Now().UTC(), Price: 46000}

	require.Eventually(t, func() bool {
		return e.store.Count() == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		st := e.GetStatus()
		return st.Spot == 46000
	}, time.Second, time.Millisecond)
}

func TestStrategiesRecommendFiltersByMinScore(t *testing.T) {
	e := New(testConfig(), testLogger(), nil)
	seedEngine(t, e, 45000)

	recs, err := e.StrategiesRecommend(0, 1000)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestMarketSnapshotReflectsStore(t *testing.T) {
	e := New(testConfig(), testLogger(), sink.NewInMemorySink(0))
	seedEngine(t, e, 45000)

	snap := e.MarketSnapshot()
	require.Equal(t, 45000.0, snap.Spot)
	require.Equal(t, 45000.0, snap.MaxPainStrike)
}
