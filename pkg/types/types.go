// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — order types,
// market metadata, order book wire formats, and WebSocket event payloads.
// It has no dependencies on internal packages, so it can be imported by
// any layer. Component-local types (inventory positions, OFI windows,
// order slots, fill events) live in the package that owns them instead of
// being crammed in here.
package types

import (
	"math/big"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Outcome identifies one of a binary market's two complementary tokens.
type Outcome string

const (
	YES Outcome = "YES"
	NO  Outcome = "NO"
)

// Opposite returns the other outcome.
func (o Outcome) Opposite() Outcome {
	if o == YES {
		return NO
	}
	return YES
}

// Intent distinguishes why a slot's order is live: earning spread
// (Provide) or reducing inventory imbalance (Hedge). The two never share
// a slot.
type Intent string

const (
	Provide Intent = "PROVIDE"
	Hedge   Intent = "HEDGE"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize is the price rounding grid for a market. The engine runs one
// fixed tick (PM_TICK_SIZE) for its whole lifetime, but it is still
// modeled as a named type so the rounding helpers that consume it read
// naturally rather than taking a bare float.
type TickSize float64

// Decimals returns how many decimal places this tick implies, e.g. a tick
// of 0.001 returns 3.
func (t TickSize) Decimals() int {
	d := 0
	v := float64(t)
	for v > 0 && v < 1 && d < 12 {
		v *= 10
		d++
	}
	return d
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the internal representation of a binary prediction market
// as resolved by a MarketResolver from a slug prefix. A binary market has
// exactly two tokens (YES and NO) whose fair prices sum to ~1.
type MarketInfo struct {
	ConditionID string // CTF condition ID (used for cancels + user WS subscription)
	Slug        string // human-readable URL slug, e.g. "btc-up-or-down-2pm-et"
	Question    string // the prediction question

	YesTokenID string // CLOB token ID for the YES outcome
	NoTokenID  string // CLOB token ID for the NO outcome

	NegRisk bool // true if this is a neg-risk market (affects CTF exchange)

	WindowOpenUnix int64 // unix seconds the trading window opened
	ExpiryUnix     int64 // unix seconds this market is scheduled to resolve
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the high-level order representation produced by the
// executor. The exchange client converts it to a SignedOrder for the
// CLOB API.
type UserOrder struct {
	TokenID    string    // which token to trade (YES or NO asset ID)
	Price      float64   // limit price in (0, 1)
	Size       float64   // quantity in tokens
	Side       Side      // always BUY for this engine
	OrderType  OrderType // GTC
	PostOnly   bool      // always true for this engine
	Expiration int64     // unix timestamp, 0 = no expiry
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are scaled to 6 decimals (1e6 = $1 or 1 token).
//
// For BUY: maker gives MakerAmount USDC, receives TakerAmount tokens.
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /orders (batch).
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`              // API key of the order owner
	OrderType OrderType   `json:"orderType"`          // GTC
	PostOnly  bool        `json:"postOnly,omitempty"` // if true, rejects if it would cross
}

// OrderResponse is the REST API response for each order in a batch POST.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`        // "live", "matched", etc.
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// CancelResponse is returned by DELETE /orders, /cancel-all, /cancel-market-orders.
type CancelResponse struct {
	Canceled []string `json:"canceled"` // IDs of successfully cancelled orders
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Hash      string       `json:"hash"`
	Timestamp string       `json:"timestamp"`
	NegRisk   bool         `json:"neg_risk"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the venue's
// WebSocket. Public-stream events: "book" (full snapshot), "price_change"
// (delta), "last_trade_price" (taker trade tick, feeds OFIEngine).
// User-stream events: "trade" (fill), "order" (placement/cancel lifecycle).

// WSBookEvent is a full order book snapshot from the public stream.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`  // book version hash
	Buys      []PriceLevel `json:"buys"`  // bid levels
	Sells     []PriceLevel `json:"sells"` // ask levels
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"` // the price level that changed
	Size    string `json:"size"`  // new size at that level (0 = removed)
	Side    string `json:"side"`  // "BUY" or "SELL"
	Hash    string `json:"hash"`  // updated book hash
}

// WSPriceChangeEvent is an incremental order book update from the public
// stream. Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSLastTradePrice is a taker trade tick from the public stream, the raw
// signal OFIEngine folds into its per-side sliding window. TakerSide is
// the side of the aggressor that crossed the book: "BUY" means a taker
// lifted the ask.
type WSLastTradePrice struct {
	EventType string `json:"event_type"` // always "last_trade_price"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	TakerSide string `json:"side"` // "BUY" or "SELL"
	Timestamp string `json:"timestamp"`
}

// WSTradeEvent is a fill notification from the user WS channel.
// Received when one of our orders gets matched against a taker.
type WSTradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`         // trade ID
	Market    string `json:"market"`     // condition ID
	AssetID   string `json:"asset_id"`   // token ID that was traded
	Side      string `json:"side"`       // our side: always "BUY" for this engine
	Size      string `json:"size"`       // filled quantity
	Price     string `json:"price"`      // fill price
	Outcome   string `json:"outcome"`    // "Yes" or "No"
	Status    string `json:"status"`     // "MATCHED", "CONFIRMED", "FAILED"
	OrderID   string `json:"maker_order_id"`
	Timestamp string `json:"timestamp"`
}

// WSOrderEvent is an order lifecycle notification from the user WS channel.
// Received on order placement, update, or cancellation.
type WSOrderEvent struct {
	EventType    string `json:"event_type"` // always "order"
	ID           string `json:"id"`         // order ID
	Market       string `json:"market"`     // condition ID
	AssetID      string `json:"asset_id"`   // token ID
	Side         string `json:"side"`       // "BUY" or "SELL"
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"` // cumulative filled
	Outcome      string `json:"outcome"`      // "Yes" or "No"
	Owner        string `json:"owner"`        // API key
	Timestamp    string `json:"timestamp"`
	Type         string `json:"type"` // "PLACEMENT", "UPDATE", "CANCELLATION"
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to a WebSocket channel. For the user channel, Auth must be provided.
type WSSubscribeMsg struct {
	Auth     *WSAuth  `json:"auth,omitempty"`       // required for user channel
	Type     string   `json:"type"`                 // "market" or "user"
	Markets  []string `json:"markets,omitempty"`    // condition IDs (user channel)
	AssetIDs []string `json:"assets_ids,omitempty"` // token IDs (market channel)
}

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from channels
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"` // token IDs (market channel)
	Markets   []string `json:"markets,omitempty"`    // condition IDs (user channel)
	Operation string   `json:"operation"`            // "subscribe" or "unsubscribe"
}
