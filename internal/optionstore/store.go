// Package optionstore maintains the canonical in-memory mapping of option
// contracts keyed by symbol. It is the single-writer source every derived
// calculator (GEX, vol surface, anomaly detection) reads from.
package optionstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

// ContractMeta describes a contract as loaded from exchange-info, before any
// market data has arrived for it.
type ContractMeta struct {
	Symbol       string
	Underlying   string
	Strike       float64
	Expiry       time.Time
	Side         models.Side
	ContractSize float64
}

// GreeksUpdate carries a Greeks refresh for one symbol.
type GreeksUpdate struct {
	Symbol string
	Delta  float64
	Gamma  float64
	Theta  float64
	Vega   float64
	BidIV  float64
	AskIV  float64
	MarkIV float64
}

// Store is the single-writer, many-reader option contract table.
type Store struct {
	mu      sync.RWMutex
	options map[string]*models.Option
	staleTTL time.Duration
}

// New creates an empty Store. staleTTL controls the freshness window
// IsStale queries use (default 10s per spec §4.1).
func New(staleTTL time.Duration) *Store {
	if staleTTL <= 0 {
		staleTTL = 10 * time.Second
	}
	return &Store{
		options:  make(map[string]*models.Option),
		staleTTL: staleTTL,
	}
}

// DecodeSymbolMismatch is returned when a contract's metadata disagrees with
// what its symbol decodes to.
type DecodeSymbolMismatch struct {
	Symbol string
	Reason string
}

func (e *DecodeSymbolMismatch) Error() string {
	return fmt.Sprintf("symbol %q does not match metadata: %s", e.Symbol, e.Reason)
}

// DecodeSymbol parses an underlying-YYMMDD-strike-side encoded symbol, e.g.
// "BTC-250214-45000-C", and returns its component fields.
func DecodeSymbol(symbol string) (underlying string, expiry time.Time, strike float64, side models.Side, err error) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 4 {
		return "", time.Time{}, 0, "", fmt.Errorf("symbol %q: expected 4 dash-separated fields", symbol)
	}
	underlying = parts[0]
	expiry, err = time.Parse("060102", parts[1])
	if err != nil {
		return "", time.Time{}, 0, "", fmt.Errorf("symbol %q: bad expiry field: %w", symbol, err)
	}
	strike, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return "", time.Time{}, 0, "", fmt.Errorf("symbol %q: bad strike field: %w", symbol, err)
	}
	switch strings.ToUpper(parts[3]) {
	case "C":
		side = models.SideCall
	case "P":
		side = models.SidePut
	default:
		return "", time.Time{}, 0, "", fmt.Errorf("symbol %q: bad side field %q", symbol, parts[3])
	}
	return underlying, expiry, strike, side, nil
}

// UpsertContract inserts or replaces a contract's identity fields. The
// symbol decoder must agree with the supplied metadata; mismatches are
// rejected rather than silently accepted (spec §4.1 parsing invariant).
func (s *Store) UpsertContract(meta ContractMeta) error {
	underlying, expiry, strike, side, err := DecodeSymbol(meta.Symbol)
	if err != nil {
		return err
	}
	if !strings.EqualFold(underlying, meta.Underlying) {
		return &DecodeSymbolMismatch{Symbol: meta.Symbol, Reason: fmt.Sprintf("underlying %q vs decoded %q", meta.Underlying, underlying)}
	}
	if strike != meta.Strike {
		return &DecodeSymbolMismatch{Symbol: meta.Symbol, Reason: fmt.Sprintf("strike %v vs decoded %v", meta.Strike, strike)}
	}
	if side != meta.Side {
		return &DecodeSymbolMismatch{Symbol: meta.Symbol, Reason: fmt.Sprintf("side %v vs decoded %v", meta.Side, side)}
	}
	if !expiry.Equal(meta.Expiry) {
		return &DecodeSymbolMismatch{Symbol: meta.Symbol, Reason: fmt.Sprintf("expiry %v vs decoded %v", meta.Expiry, expiry)}
	}

	contractSize := meta.ContractSize
	if contractSize <= 0 {
		contractSize = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.options[meta.Symbol]
	if !ok {
		existing = &models.Option{}
		s.options[meta.Symbol] = existing
	}
	existing.Symbol = meta.Symbol
	existing.Underlying = meta.Underlying
	existing.Strike = meta.Strike
	existing.Expiry = meta.Expiry
	existing.Side = meta.Side
	existing.ContractSize = contractSize
	return nil
}

// ApplyGreeks applies a batch of Greeks updates. Unknown symbols are
// skipped; they must first arrive via UpsertContract.
func (s *Store) ApplyGreeks(batch []GreeksUpdate) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range batch {
		opt, ok := s.options[u.Symbol]
		if !ok {
			continue
		}
		opt.Delta = u.Delta
		opt.Gamma = u.Gamma
		opt.Theta = u.Theta
		opt.Vega = u.Vega
		opt.BidIV = u.BidIV
		opt.AskIV = u.AskIV
		opt.MarkIV = u.MarkIV
		opt.LastUpdate = now
	}
}

// ApplyMarkPrice updates a symbol's mark price.
func (s *Store) ApplyMarkPrice(symbol string, px float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opt, ok := s.options[symbol]; ok {
		opt.MarkPrice = px
		opt.LastUpdate = time.Now().UTC()
	}
}

// ApplyTicker updates a symbol's bid/ask/last prices (volume goes through
// ApplyVolume).
func (s *Store) ApplyTicker(symbol string, bid, ask, last float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opt, ok := s.options[symbol]; ok {
		opt.Bid = bid
		opt.Ask = ask
		opt.LastPrice = last
		opt.LastUpdate = time.Now().UTC()
	}
}

// ApplyOI updates a symbol's open interest.
func (s *Store) ApplyOI(symbol string, oi float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opt, ok := s.options[symbol]; ok {
		opt.OpenInterest = oi
		opt.LastUpdate = time.Now().UTC()
	}
}

// ApplyVolume updates a symbol's rolling 24h traded volume.
func (s *Store) ApplyVolume(symbol string, volume24h float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opt, ok := s.options[symbol]; ok {
		opt.Volume24h = volume24h
		opt.LastUpdate = time.Now().UTC()
	}
}

// MaxPain computes per-strike total open interest and returns the strike
// with the maximum aggregate, plus the top-10 strikes by that aggregate.
// This labels the OI-maximizing strike "max pain", not the classic
// dealer-PnL-minimizing strike; that is the domain's own convention.
func (s *Store) MaxPain() (strike float64, breakdown []models.MaxPainEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[float64]float64)
	for _, o := range s.options {
		totals[o.Strike] += o.OpenInterest
	}
	breakdown = make([]models.MaxPainEntry, 0, len(totals))
	for k, v := range totals {
		breakdown = append(breakdown, models.MaxPainEntry{Strike: k, TotalOI: v})
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].TotalOI > breakdown[j].TotalOI })
	if len(breakdown) > 10 {
		breakdown = breakdown[:10]
	}
	if len(breakdown) > 0 {
		strike = breakdown[0].Strike
	}
	return strike, breakdown
}

// Sentiment returns put/call open-interest and volume ratios, bucketed into
// a directional label at cutoffs 0.7/0.9/1.1/1.3.
func (s *Store) Sentiment() (oiRatio, volRatio float64, label models.Sentiment) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var putOI, callOI, putVol, callVol float64
	for _, o := range s.options {
		switch o.Side {
		case models.SidePut:
			putOI += o.OpenInterest
			putVol += o.Volume24h
		case models.SideCall:
			callOI += o.OpenInterest
			callVol += o.Volume24h
		}
	}
	if callOI > 0 {
		oiRatio = putOI / callOI
	}
	if callVol > 0 {
		volRatio = putVol / callVol
	}
	return oiRatio, volRatio, sentimentLabel(oiRatio)
}

func sentimentLabel(ratio float64) models.Sentiment {
	switch {
	case ratio < 0.7:
		return models.SentimentVeryBullish
	case ratio < 0.9:
		return models.SentimentBullish
	case ratio < 1.1:
		return models.SentimentNeutral
	case ratio < 1.3:
		return models.SentimentBearish
	default:
		return models.SentimentVeryBearish
	}
}

// snapshotLocked returns a defensive copy of every option, given the lock is
// already held.
func (s *Store) snapshotLocked() []models.Option {
	out := make([]models.Option, 0, len(s.options))
	for _, o := range s.options {
		out = append(out, *o)
	}
	return out
}

// All returns an immutable snapshot of every contract.
func (s *Store) All() []models.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Get returns a copy of a single contract, and whether it exists.
func (s *Store) Get(symbol string) (models.Option, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opt, ok := s.options[symbol]
	if !ok {
		return models.Option{}, false
	}
	return *opt, true
}

// ByStrike returns every contract at a given strike.
func (s *Store) ByStrike(strike float64) []models.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Option
	for _, o := range s.options {
		if o.Strike == strike {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Side < out[j].Side })
	return out
}

// BySide returns every contract on the given side.
func (s *Store) BySide(side models.Side) []models.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Option
	for _, o := range s.options {
		if o.Side == side {
			out = append(out, *o)
		}
	}
	return out
}

// ByExpiry returns every contract expiring at the given timestamp.
func (s *Store) ByExpiry(expiry time.Time) []models.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Option
	for _, o := range s.options {
		if o.Expiry.Equal(expiry) {
			out = append(out, *o)
		}
	}
	return out
}

// UniqueStrikes returns every distinct strike, ascending.
func (s *Store) UniqueStrikes() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[float64]struct{})
	for _, o := range s.options {
		seen[o.Strike] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

// UniqueExpiries returns every distinct expiry, ascending.
func (s *Store) UniqueExpiries() []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]time.Time)
	for _, o := range s.options {
		seen[o.Expiry.Unix()] = o.Expiry
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Count returns the number of contracts tracked.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.options)
}

// StaleCount returns how many contracts haven't been refreshed within the
// store's configured TTL.
func (s *Store) StaleCount(now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.options {
		if o.IsStale(now, s.staleTTL) {
			n++
		}
	}
	return n
}
