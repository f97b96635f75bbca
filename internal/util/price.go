// Package util provides common utility functions for price calculations.
package util

import (
	"github.com/shopspring/decimal"

	"github.com/tknox12/alertbridge/internal/models"
)

// Minimum price increments. Index-class products quote in nickels above $3,
// but the gateway enforces the coarser tick across the book, so we use it
// everywhere for those symbols.
const (
	DefaultTick    = 0.01
	IndexClassTick = 0.05
)

var indexClassSymbols = map[string]bool{
	"SPX": true,
	"XSP": true,
	"NDX": true,
	"RUT": true,
	"VIX": true,
}

// IsIndexClass reports whether symbol is an index-style product that lists
// daily expirations and quotes on the coarse tick.
func IsIndexClass(symbol string) bool {
	return indexClassSymbols[symbol]
}

// TickForSymbol returns the minimum price increment for a symbol when no
// broker-reported tick is available.
func TickForSymbol(symbol string) float64 {
	if IsIndexClass(symbol) {
		return IndexClassTick
	}
	return DefaultTick
}

// AlignPrice snaps price onto the tick grid, rounding in the direction that
// protects the operator: up when selling, down when buying. Uses decimal
// arithmetic so boundary prices like 2.675 land on the correct side.
func AlignPrice(price, tick float64, side models.OrderSide) float64 {
	if tick <= 0 || price <= 0 {
		return price
	}

	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)

	steps := p.Div(t)
	if side == models.SideSell {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}

	aligned, _ := steps.Mul(t).Float64()
	return aligned
}

// RoundToTick rounds price to the nearest tick without a directional bias.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	rounded, _ := p.Div(t).Round(0).Mul(t).Float64()
	return rounded
}

// Midpoint returns the bid/ask midpoint, or 0 when the quote is unusable.
func Midpoint(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0
	}
	mid, _ := decimal.NewFromFloat(bid).
		Add(decimal.NewFromFloat(ask)).
		Div(decimal.NewFromInt(2)).
		Float64()
	return mid
}
