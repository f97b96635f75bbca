package models

import (
	"strings"
	"time"
)

// OrderEvent is a normalized broker order-status update as drained from the
// order stream. The gateway reports these with inconsistent shapes; the broker
// client flattens them into this struct before anything downstream sees them.
type OrderEvent struct {
	OrderID      string      `json:"order_id"`
	ConID        int64       `json:"conid,omitempty"`
	Symbol       string      `json:"symbol"`
	Status       string      `json:"status"`
	Side         OrderSide   `json:"side"`
	FilledQty    float64     `json:"filled_qty"`
	RemainingQty float64     `json:"remaining_qty,omitempty"`
	AvgPrice     float64     `json:"avg_price,omitempty"`
	Strike       float64     `json:"strike,omitempty"`
	Right        OptionRight `json:"right,omitempty"`
	Expiry       string      `json:"expiry,omitempty"`
	ReceivedAt   time.Time   `json:"received_at,omitempty"`
}

// IsFill reports whether the event represents executed quantity: a status
// containing FILLED or PARTIAL, or a positive filled quantity.
func (e *OrderEvent) IsFill() bool {
	status := strings.ToUpper(e.Status)
	if strings.Contains(status, "FILLED") || strings.Contains(status, "PARTIAL") {
		return true
	}
	return e.FilledQty > 0
}
