package optionstore

import (
	"testing"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func mustMeta(t *testing.T, symbol string, size float64) ContractMeta {
	t.Helper()
	underlying, expiry, strike, side, err := DecodeSymbol(symbol)
	require.NoError(t, err)
	return ContractMeta{
		Symbol: symbol, Underlying: underlying, Strike: strike,
		Expiry: expiry, Side: side, ContractSize: size,
	}
}

func TestDecodeSymbol(t *testing.T) {
	underlying, expiry, strike, side, err := DecodeSymbol("BTC-250214-45000-C")
	require.NoError(t, err)
	require.Equal(t, "BTC", underlying)
	require.Equal(t, 45000.0, strike)
	require.Equal(t, models.SideCall, side)
	require.Equal(t, 2025, expiry.Year())
	require.Equal(t, time.Month(2), expiry.Month())
	require.Equal(t, 14, expiry.Day())
}

func TestDecodeSymbolRejectsMalformed(t *testing.T) {
	_, _, _, _, err := DecodeSymbol("BTC-250214-45000")
	require.Error(t, err)
}

func TestUpsertContractRejectsMismatch(t *testing.T) {
	s := New(0)
	meta := mustMeta(t, "BTC-250214-45000-C", 1)
	meta.Strike = 46000 // deliberately wrong
	err := s.UpsertContract(meta)
	require.Error(t, err)
	var mismatch *DecodeSymbolMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestUpsertAndApplyGreeks(t *testing.T) {
	s := New(0)
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-C", 1)))
	s.ApplyGreeks([]GreeksUpdate{{Symbol: "BTC-250214-45000-C", Gamma: 0.001, Delta: 0.5}})

	opt, ok := s.Get("BTC-250214-45000-C")
	require.True(t, ok)
	require.Equal(t, 0.001, opt.Gamma)
	require.Equal(t, 0.5, opt.Delta)
	require.False(t, opt.LastUpdate.IsZero())
}

func TestApplyGreeksIgnoresUnknownSymbol(t *testing.T) {
	s := New(0)
	s.ApplyGreeks([]GreeksUpdate{{Symbol: "nope", Gamma: 1}})
	require.Equal(t, 0, s.Count())
}

func TestDefaultContractSize(t *testing.T) {
	s := New(0)
	meta := mustMeta(t, "BTC-250214-45000-C", 0)
	require.NoError(t, s.UpsertContract(meta))
	opt, _ := s.Get("BTC-250214-45000-C")
	require.Equal(t, 1.0, opt.ContractSize)
}

func TestStaleness(t *testing.T) {
	s := New(10 * time.Second)
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-C", 1)))
	s.ApplyGreeks([]GreeksUpdate{{Symbol: "BTC-250214-45000-C", Gamma: 0.001}})

	require.Equal(t, 0, s.StaleCount(time.Now().UTC()))
	require.Equal(t, 1, s.StaleCount(time.Now().UTC().Add(20*time.Second)))
}

func TestUniqueStrikesAndExpiries(t *testing.T) {
	s := New(0)
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-C", 1)))
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-46000-P", 1)))
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250221-45000-C", 1)))

	strikes := s.UniqueStrikes()
	require.Equal(t, []float64{45000, 46000}, strikes)
	require.Len(t, s.UniqueExpiries(), 2)
}

func TestByStrikeAndBySide(t *testing.T) {
	s := New(0)
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-C", 1)))
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-P", 1)))

	require.Len(t, s.ByStrike(45000), 2)
	require.Len(t, s.BySide(models.SideCall), 1)
}

func TestMaxPainPicksHighestAggregateOI(t *testing.T) {
	s := New(0)
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-C", 1)))
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-P", 1)))
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-46000-C", 1)))
	s.ApplyOI("BTC-250214-45000-C", 100)
	s.ApplyOI("BTC-250214-45000-P", 150)
	s.ApplyOI("BTC-250214-46000-C", 80)

	strike, breakdown := s.MaxPain()
	require.Equal(t, 45000.0, strike)
	require.Len(t, breakdown, 2)
	require.Equal(t, 250.0, breakdown[0].TotalOI)
}

func TestSentimentBucketsAtCutoffs(t *testing.T) {
	s := New(0)
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-C", 1)))
	require.NoError(t, s.UpsertContract(mustMeta(t, "BTC-250214-45000-P", 1)))
	s.ApplyOI("BTC-250214-45000-C", 100)
	s.ApplyOI("BTC-250214-45000-P", 140)
	s.ApplyVolume("BTC-250214-45000-C", 50)
	s.ApplyVolume("BTC-250214-45000-P", 30)

	oiRatio, volRatio, label := s.Sentiment()
	require.InDelta(t, 1.4, oiRatio, 1e-9)
	require.InDelta(t, 0.6, volRatio, 1e-9)
	require.Equal(t, models.SentimentVeryBearish, label)
}
