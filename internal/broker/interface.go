// Package broker provides the brokerage gateway client used for instrument
// lookup, order placement, and the order-update stream.
package broker

import (
	"context"

	"github.com/tknox12/alertbridge/internal/models"
)

// Broker defines the capability set the engine needs from a brokerage
type Broker interface {
	// Account operations
	GetPositions(ctx context.Context) ([]Position, error)
	GetOrders(ctx context.Context) ([]models.OrderEvent, error)

	// Instrument discovery
	SearchInstrument(ctx context.Context, query string) (SearchResult, error)
	GetStrikes(ctx context.Context, underlyingConID int64, month string) ([]float64, error)
	GetInstrumentDefinition(ctx context.Context, underlyingConID int64, month string,
		strike float64, right models.OptionRight) (*models.Instrument, error)
	GetMarketSnapshot(ctx context.Context, conID int64, fields []string) (map[string]string, error)

	// Order placement. knownAnswers maps confirmation prompt text to the
	// affirmative/negative reply that should be sent automatically.
	PlaceOrder(ctx context.Context, req *OrderRequest, knownAnswers map[string]bool) (*PlaceResponse, error)
	AnswerConfirmation(ctx context.Context, promptID string, confirmed bool) (*PlaceResponse, error)

	// Order-update stream
	SubscribeOrderStream(ctx context.Context) error
	UnsubscribeOrderStream(ctx context.Context) error
	PollOrderStream(ctx context.Context) ([]models.OrderEvent, error)
}

// Ensure implementations satisfy Broker at compile time.
var (
	_ Broker = (*GatewayClient)(nil)
	_ Broker = (*CircuitBreakerBroker)(nil)
)
