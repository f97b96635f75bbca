// Package models defines the core domain types shared across the engine:
// alerts, signals, instruments, stored contracts, and order events.
package models

import (
	"fmt"
	"strings"
	"time"
)

// AlertStatus represents the lifecycle state of an alert record.
type AlertStatus string

const (
	// AlertStatusActive marks an alert that is still being tracked.
	AlertStatusActive AlertStatus = "ACTIVE"
	// AlertStatusClosed marks an alert whose position has been exited.
	AlertStatusClosed AlertStatus = "CLOSED"
)

// Sentiment is the directional intent carried by a signal.
type Sentiment string

const (
	// SentimentBullish indicates an expectation of upward movement.
	SentimentBullish Sentiment = "BULLISH"
	// SentimentBearish indicates an expectation of downward movement.
	SentimentBearish Sentiment = "BEARISH"
	// SentimentNeutral indicates no clear directional bias.
	SentimentNeutral Sentiment = "NEUTRAL"
)

// SignalAction classifies what a parsed alert is asking for.
type SignalAction string

const (
	// ActionBuy is a new entry signal.
	ActionBuy SignalAction = "BUY"
	// ActionSell is an exit signal.
	ActionSell SignalAction = "SELL"
	// ActionUpdate is a commentary/update mention of an existing ticker.
	ActionUpdate SignalAction = "UPDATE"
)

// SignalData is the structured payload produced by an upstream alert parser.
type SignalData struct {
	Ticker     string       `json:"ticker"`
	Action     SignalAction `json:"action"`
	Sentiment  Sentiment    `json:"sentiment"`
	Strike     float64      `json:"strike,omitempty"`
	Right      OptionRight  `json:"right,omitempty"`
	Expiry     string       `json:"expiry,omitempty"` // YYYYMMDD
	Quantity   int          `json:"quantity,omitempty"`
	RawText    string       `json:"raw_text,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Alert is the durable per-(alerter, ticker) record of a trading signal.
// Open transitions false->true only through fill reconciliation.
type Alert struct {
	Alerter         string      `json:"alerter"`
	Ticker          string      `json:"ticker"`
	Status          AlertStatus `json:"status"`
	Open            bool        `json:"open"`
	CreatedAt       time.Time   `json:"created_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
	Signal          SignalData  `json:"signal"`
	OptionConID     int64       `json:"option_conid,omitempty"`
	UnderlyingConID int64       `json:"underlying_conid"`
	Sentiment       Sentiment   `json:"sentiment"`
}

// IsActive reports whether the alert is still being tracked.
func (a *Alert) IsActive() bool {
	return a.Status == AlertStatusActive
}

// Key returns the canonical map key for this alert's ticker.
func (a *Alert) Key() string {
	return strings.ToUpper(a.Ticker)
}

// String implements fmt.Stringer for log lines.
func (a *Alert) String() string {
	return fmt.Sprintf("%s/%s status=%s open=%t", a.Alerter, a.Ticker, a.Status, a.Open)
}
