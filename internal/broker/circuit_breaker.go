package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tknox12/alertbridge/internal/models"
)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetPositions wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Position, error) {
		return b.GetPositions(ctx)
	})
}

// GetOrders wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOrders(ctx context.Context) ([]models.OrderEvent, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.OrderEvent, error) {
		return b.GetOrders(ctx)
	})
}

// SearchInstrument wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) SearchInstrument(ctx context.Context, query string) (SearchResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (SearchResult, error) {
		return b.SearchInstrument(ctx, query)
	})
}

// GetStrikes wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetStrikes(ctx context.Context, underlyingConID int64, month string) ([]float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]float64, error) {
		return b.GetStrikes(ctx, underlyingConID, month)
	})
}

// GetInstrumentDefinition wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetInstrumentDefinition(ctx context.Context, underlyingConID int64, month string,
	strike float64, right models.OptionRight) (*models.Instrument, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Instrument, error) {
		return b.GetInstrumentDefinition(ctx, underlyingConID, month, strike, right)
	})
}

// GetMarketSnapshot wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetMarketSnapshot(ctx context.Context, conID int64, fields []string) (map[string]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]string, error) {
		return b.GetMarketSnapshot(ctx, conID, fields)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req *OrderRequest,
	knownAnswers map[string]bool) (*PlaceResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*PlaceResponse, error) {
		return b.PlaceOrder(ctx, req, knownAnswers)
	})
}

// AnswerConfirmation wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) AnswerConfirmation(ctx context.Context, promptID string, confirmed bool) (*PlaceResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*PlaceResponse, error) {
		return b.AnswerConfirmation(ctx, promptID, confirmed)
	})
}

// SubscribeOrderStream wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) SubscribeOrderStream(ctx context.Context) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.SubscribeOrderStream(ctx)
	})
	return err
}

// UnsubscribeOrderStream wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) UnsubscribeOrderStream(ctx context.Context) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.UnsubscribeOrderStream(ctx)
	})
	return err
}

// PollOrderStream wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PollOrderStream(ctx context.Context) ([]models.OrderEvent, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.OrderEvent, error) {
		return b.PollOrderStream(ctx)
	})
}
