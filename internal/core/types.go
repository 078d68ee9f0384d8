// Package core holds the data model and error taxonomy shared by every
// other package in the runtime: events, orders, positions, and
// instrument metadata. No package below core may import anything above
// it in the dependency graph (eventbus, gateway, marketdata, oms,
// sizer, ledger, guardian all depend on core; core depends on nothing
// internal).
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the closed sum type of everything that flows over the
// event bus.
type EventKind int

const (
	EventTick EventKind = iota
	EventBookUpdate
	EventCandle
	EventPositionUpdate
	EventBalanceUpdate
	EventOrderUpdate
	EventOrderFilled
	EventOrderCancelled
	EventOrderSubmitted
	EventSignalBuy
	EventSignalSell
	EventSignalExit
	EventError
	EventWarning
	EventInfo
	EventShutdown
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "Tick"
	case EventBookUpdate:
		return "BookUpdate"
	case EventCandle:
		return "Candle"
	case EventPositionUpdate:
		return "PositionUpdate"
	case EventBalanceUpdate:
		return "BalanceUpdate"
	case EventOrderUpdate:
		return "OrderUpdate"
	case EventOrderFilled:
		return "OrderFilled"
	case EventOrderCancelled:
		return "OrderCancelled"
	case EventOrderSubmitted:
		return "OrderSubmitted"
	case EventSignalBuy:
		return "SignalBuy"
	case EventSignalSell:
		return "SignalSell"
	case EventSignalExit:
		return "SignalExit"
	case EventError:
		return "Error"
	case EventWarning:
		return "Warning"
	case EventInfo:
		return "Info"
	case EventShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Priority classes, lower value dispatched first.
const (
	PriorityEmergencyClose uint8 = 0
	PriorityOrderFilled    uint8 = 1
	PriorityRiskAlert      uint8 = 2
	PriorityPositionUpdate uint8 = 3
	PriorityOrderUpdate    uint8 = 5
	PriorityTick           uint8 = 10
)

// DefaultPriority maps an EventKind to its bus priority when the
// caller does not explicitly choose one.
func DefaultPriority(kind EventKind) uint8 {
	switch kind {
	case EventOrderFilled:
		return PriorityOrderFilled
	case EventPositionUpdate, EventBalanceUpdate:
		return PriorityPositionUpdate
	case EventOrderUpdate, EventOrderCancelled, EventOrderSubmitted:
		return PriorityOrderUpdate
	case EventTick, EventBookUpdate, EventCandle:
		return PriorityTick
	case EventError, EventWarning:
		return PriorityRiskAlert
	default:
		return PriorityTick
	}
}

// Event is immutable once published: handlers must treat Data as
// read-only. Source identifies the publishing component for logging.
type Event struct {
	Kind      EventKind
	Data      interface{}
	Timestamp time.Time
	Source    string
}

func NewEvent(kind EventKind, source string, data interface{}) Event {
	return Event{Kind: kind, Data: data, Timestamp: time.Now(), Source: source}
}

// Side is a normalized order/position side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// NormalizeSide lowercases and validates a caller-supplied side string.
func NormalizeSide(raw string) (Side, bool) {
	switch Side(toLower(raw)) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// OrderType enumerates the supported exchange order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeIOC        OrderType = "ioc"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeStopLimit  OrderType = "stop_limit"
)

// OrderStatus is the monotonic lifecycle state of an Order. Live →
// Cancelled is always terminal; Filled and Rejected are also terminal.
type OrderStatus string

const (
	OrderLive            OrderStatus = "live"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether no further status transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// Order is the OMS's record of a single exchange order. StopLossPrice,
// once set at submit time, persists unchanged through the entire
// lifecycle regardless of what the exchange echoes back — it is the
// single source of truth for the stop-loss retry state machine.
type Order struct {
	OrderID      string
	ClOrdID      string
	Symbol       string
	Side         Side
	OrderType    OrderType
	Price        decimal.Decimal
	Size         decimal.Decimal
	FilledSize   decimal.Decimal
	Status       OrderStatus
	StopLossPrice *decimal.Decimal
	ReduceOnly   bool
	StrategyID   string
	RawPayload   map[string]interface{}
	CreatedAt    time.Time

	// Stop-loss retry bookkeeping (supplemented from original_source's
	// trade_executor.py: kept on the order, not a side table).
	StopRetryCount  int
	StopLastRetryAt time.Time
	StopPlaced      bool
}

// Position is the exchange-reported position for one symbol.
// SignedSize > 0 is Long, < 0 is Short, == 0 is Flat.
type Position struct {
	Symbol         string
	SignedSize     decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	Leverage       decimal.Decimal
}

// PositionSide classifies a Position's SignedSize.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionFlat  PositionSide = "flat"
)

func (p Position) Side() PositionSide {
	switch {
	case p.SignedSize.IsPositive():
		return PositionLong
	case p.SignedSize.IsNegative():
		return PositionShort
	default:
		return PositionFlat
	}
}

// PriceLevel is a single (price, size) book level.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBookSnapshot is an immutable top-of-book view, at most 5 levels
// per side.
type OrderBookSnapshot struct {
	Symbol  string
	Bids    []PriceLevel
	Asks    []PriceLevel
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Ts      time.Time
}

// TickerSnapshot is an immutable last-trade/quote view.
type TickerSnapshot struct {
	Symbol    string
	LastPrice decimal.Decimal
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Volume24h decimal.Decimal
	Ts        time.Time
}

// Candle is an OHLCV bar for one symbol/interval.
type Candle struct {
	Symbol string
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
	Ts     time.Time
}

// InstrumentState is whether an instrument is currently tradeable.
type InstrumentState string

const (
	InstrumentLive      InstrumentState = "live"
	InstrumentSuspended InstrumentState = "suspended"
)

// InstrumentSpec is per-symbol metadata fetched once at startup; all
// sizing and price rounding uses these fields.
type InstrumentSpec struct {
	Symbol        string
	LotSize       decimal.Decimal
	MinOrderSize  decimal.Decimal
	MinNotional   decimal.Decimal
	TickSize      decimal.Decimal
	ContractValue decimal.Decimal
	State         InstrumentState
}
