package broker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tknox12/alertbridge/internal/models"
)

// StrikeMatchEpsilon defines the precision tolerance for matching strike prices
const StrikeMatchEpsilon = 1e-3

// APIError represents a gateway error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Handle single-object vs array responses from the gateway
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// Position is one broker-reported holding.
type Position struct {
	ConID    int64   `json:"conid"`
	Symbol   string  `json:"contractDesc"`
	Ticker   string  `json:"ticker"`
	Quantity float64 `json:"position"`
	AvgCost  float64 `json:"avgCost"`
	Strike   float64 `json:"strike,omitempty"`
	Right    string  `json:"putOrCall,omitempty"`
	Expiry   string  `json:"expiry,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// IsLong reports whether the position quantity is positive.
func (p *Position) IsLong() bool {
	return p.Quantity > 0
}

// OrderRequest describes one order to submit.
type OrderRequest struct {
	ConID      int64            `json:"conid"`
	Side       models.OrderSide `json:"side"`
	Quantity   int              `json:"quantity"`
	OrderType  string           `json:"orderType"` // LMT | MKT | TRAILLMT
	Price      float64          `json:"price,omitempty"`
	AuxPrice   float64          `json:"auxPrice,omitempty"`    // stop price for trailing orders
	TrailAmt   float64          `json:"trailingAmt,omitempty"` // absolute trail amount
	TIF        string           `json:"tif,omitempty"`
	OutsideRTH bool             `json:"outsideRTH,omitempty"`
	Ref        string           `json:"cOID,omitempty"`
}

// PlaceStatus tags the outcome of one round-trip to the order endpoint.
type PlaceStatus string

const (
	// PlaceStatusPlaced means the order was accepted with no further questions.
	PlaceStatusPlaced PlaceStatus = "PLACED"
	// PlaceStatusConfirmationRequired means the gateway wants a yes/no answer
	// before it will accept the order.
	PlaceStatusConfirmationRequired PlaceStatus = "CONFIRMATION_REQUIRED"
	// PlaceStatusFailed means the gateway rejected the submission.
	PlaceStatusFailed PlaceStatus = "FAILED"
)

// ConfirmationPrompt is one broker-issued question blocking an order.
type ConfirmationPrompt struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PlaceResponse is the normalized outcome of PlaceOrder or AnswerConfirmation.
// Exactly one of OrderID or Prompt is meaningful, selected by Status.
type PlaceResponse struct {
	Status  PlaceStatus         `json:"status"`
	OrderID string              `json:"order_id,omitempty"`
	Prompt  *ConfirmationPrompt `json:"prompt,omitempty"`
	Reason  string              `json:"reason,omitempty"`
}

// SearchKind tags a SearchResult.
type SearchKind string

const (
	// SearchFound means exactly one instrument matched.
	SearchFound SearchKind = "FOUND"
	// SearchNotFound means nothing matched.
	SearchNotFound SearchKind = "NOT_FOUND"
	// SearchAmbiguous means more than one instrument matched.
	SearchAmbiguous SearchKind = "AMBIGUOUS"
)

// SearchResult normalizes the gateway's variable-shaped search responses into
// one tagged variant. Callers branch on Kind and never on raw shape.
type SearchResult struct {
	Kind       SearchKind
	Instrument *models.Instrument
	Candidates []models.Instrument
}

// Found returns a single-match result.
func Found(inst *models.Instrument) SearchResult {
	return SearchResult{Kind: SearchFound, Instrument: inst}
}

// NotFound returns an empty result.
func NotFound() SearchResult {
	return SearchResult{Kind: SearchNotFound}
}

// Ambiguous returns a multi-match result.
func Ambiguous(candidates []models.Instrument) SearchResult {
	return SearchResult{Kind: SearchAmbiguous, Candidates: candidates}
}
