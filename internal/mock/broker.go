// Package mock provides a testify-based mock of the broker capability set
// for use in unit tests.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tknox12/alertbridge/internal/broker"
	"github.com/tknox12/alertbridge/internal/models"
)

// Broker is a mock implementation of broker.Broker.
type Broker struct {
	mock.Mock
}

// Ensure the mock satisfies the interface at compile time.
var _ broker.Broker = (*Broker)(nil)

// GetPositions mocks broker.Broker.GetPositions.
func (m *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.Position), args.Error(1)
}

// GetOrders mocks broker.Broker.GetOrders.
func (m *Broker) GetOrders(ctx context.Context) ([]models.OrderEvent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OrderEvent), args.Error(1)
}

// SearchInstrument mocks broker.Broker.SearchInstrument.
func (m *Broker) SearchInstrument(ctx context.Context, query string) (broker.SearchResult, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(broker.SearchResult), args.Error(1)
}

// GetStrikes mocks broker.Broker.GetStrikes.
func (m *Broker) GetStrikes(ctx context.Context, underlyingConID int64, month string) ([]float64, error) {
	args := m.Called(ctx, underlyingConID, month)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

// GetInstrumentDefinition mocks broker.Broker.GetInstrumentDefinition.
func (m *Broker) GetInstrumentDefinition(ctx context.Context, underlyingConID int64, month string,
	strike float64, right models.OptionRight) (*models.Instrument, error) {
	args := m.Called(ctx, underlyingConID, month, strike, right)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Instrument), args.Error(1)
}

// GetMarketSnapshot mocks broker.Broker.GetMarketSnapshot.
func (m *Broker) GetMarketSnapshot(ctx context.Context, conID int64, fields []string) (map[string]string, error) {
	args := m.Called(ctx, conID, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// PlaceOrder mocks broker.Broker.PlaceOrder.
func (m *Broker) PlaceOrder(ctx context.Context, req *broker.OrderRequest,
	knownAnswers map[string]bool) (*broker.PlaceResponse, error) {
	args := m.Called(ctx, req, knownAnswers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.PlaceResponse), args.Error(1)
}

// AnswerConfirmation mocks broker.Broker.AnswerConfirmation.
func (m *Broker) AnswerConfirmation(ctx context.Context, promptID string, confirmed bool) (*broker.PlaceResponse, error) {
	args := m.Called(ctx, promptID, confirmed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.PlaceResponse), args.Error(1)
}

// SubscribeOrderStream mocks broker.Broker.SubscribeOrderStream.
func (m *Broker) SubscribeOrderStream(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// UnsubscribeOrderStream mocks broker.Broker.UnsubscribeOrderStream.
func (m *Broker) UnsubscribeOrderStream(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// PollOrderStream mocks broker.Broker.PollOrderStream.
func (m *Broker) PollOrderStream(ctx context.Context) ([]models.OrderEvent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OrderEvent), args.Error(1)
}
