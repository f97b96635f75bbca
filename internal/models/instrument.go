package models

import (
	"fmt"
	"time"
)

// OptionRight identifies the option side of a contract.
type OptionRight string

const (
	// RightCall is a call option.
	RightCall OptionRight = "C"
	// RightPut is a put option.
	RightPut OptionRight = "P"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	// SideBuy buys to open or close.
	SideBuy OrderSide = "BUY"
	// SideSell sells to open or close.
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// RightForSentiment maps directional intent to the option right used to
// express it: bullish buys calls, bearish buys puts.
func RightForSentiment(s Sentiment) OptionRight {
	if s == SentimentBearish {
		return RightPut
	}
	return RightCall
}

// Instrument is the resolved identity of one tradable contract. Immutable
// once resolved for a given (symbol, strike, right, expiry) key.
type Instrument struct {
	Symbol       string      `json:"symbol"`
	ConID        int64       `json:"conid"`
	Strike       float64     `json:"strike,omitempty"`
	Right        OptionRight `json:"right,omitempty"`
	Expiry       string      `json:"expiry,omitempty"` // YYYYMMDD
	Exchange     string      `json:"exchange"`
	Currency     string      `json:"currency"`
	TradingClass string      `json:"trading_class,omitempty"`
	Multiplier   string      `json:"multiplier,omitempty"`
}

// IsOption reports whether the instrument carries option terms.
func (i *Instrument) IsOption() bool {
	return i.Right != "" && i.Expiry != ""
}

// Description renders a human-readable contract label for messages.
func (i *Instrument) Description() string {
	if !i.IsOption() {
		return i.Symbol
	}
	return fmt.Sprintf("%s %s %.2f%s", i.Symbol, i.Expiry, i.Strike, i.Right)
}

// StoredContract is the per-alerter singleton "currently tracked" contract,
// persisted across restarts.
type StoredContract struct {
	Alerter      string      `json:"alerter"`
	Symbol       string      `json:"symbol"`
	ConID        int64       `json:"conid"`
	Strike       float64     `json:"strike,omitempty"`
	Right        OptionRight `json:"right,omitempty"`
	Expiry       string      `json:"expiry,omitempty"` // YYYYMMDD
	Exchange     string      `json:"exchange,omitempty"`
	Currency     string      `json:"currency,omitempty"`
	StoredAt     time.Time   `json:"stored_at"`
	MigratedFrom string      `json:"migrated_from,omitempty"`
	MigratedAt   *time.Time  `json:"migrated_at,omitempty"`
}

// ExpiryDate parses the contract's YYYYMMDD expiry. Returns a zero time and
// false when the field is absent or malformed.
func (c *StoredContract) ExpiryDate() (time.Time, bool) {
	if len(c.Expiry) != 8 {
		return time.Time{}, false
	}
	d, err := time.Parse("20060102", c.Expiry)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
