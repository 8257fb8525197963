// Package ingestion defines the typed update channels the engine consumes
// market data from. It owns no socket or HTTP client: dialing the
// exchange, parsing wire frames, and reconnect scheduling are the
// responsibility of an external adapter that publishes onto these
// channels. This package is the seam, not the client.
package ingestion

import (
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
)

// ContractUpdate announces a new or changed option contract's identity
// fields (see optionstore.ContractMeta for the decoded shape an adapter
// must produce).
type ContractUpdate struct {
	Symbol       string
	Underlying   string
	Strike       float64
	Expiry       time.Time
	Side         models.Side
	ContractSize float64
}

// GreeksBatch carries a batch of Greeks refreshes, typically from a
// polling adapter (default interval: see config.IngestionConfig).
type GreeksBatch struct {
	Timestamp time.Time
	Updates   []GreeksUpdate
}

// GreeksUpdate is a single symbol's Greeks refresh.
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

// TickerUpdate carries a bid/ask/last/volume refresh for one symbol.
type TickerUpdate struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume24h float64
}

// OIUpdate carries an open-interest refresh for one symbol.
type OIUpdate struct {
	Symbol string
	OI     float64
}

// SpotUpdate carries the underlying's current price.
type SpotUpdate struct {
	Timestamp time.Time
	Price     float64
}

// Feed is the set of channels an ingestion adapter publishes onto and the
// engine selects over. All channels are adapter-owned: the adapter closes
// them on shutdown, the engine only ever reads.
type Feed struct {
	Contracts    <-chan ContractUpdate
	Greeks       <-chan GreeksBatch
	Tickers      <-chan TickerUpdate
	OI           <-chan OIUpdate
	OrderBook    <-chan models.OrderBookSnapshot
	Liquidations <-chan models.LiquidationEvent
	Spot         <-chan SpotUpdate
	Errors       <-chan error
}

// NewFeed wires a Feed from the given channels. A nil channel is valid: it
// simply never fires a case in a select, letting callers omit adapters
// they have no upstream for yet.
func NewFeed(
	contracts <-chan ContractUpdate,
	greeks <-chan GreeksBatch,
	tickers <-chan TickerUpdate,
	oi <-chan OIUpdate,
	orderBook <-chan models.OrderBookSnapshot,
	liquidations <-chan models.LiquidationEvent,
	spot <-chan SpotUpdate,
	errs <-chan error,
) Feed {
	return Feed{
		Contracts: contracts, Greeks: greeks, Tickers: tickers, OI: oi,
		OrderBook: orderBook, Liquidations: liquidations, Spot: spot, Errors: errs,
	}
}
