package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tknox12/alertbridge/internal/broker"
	"github.com/tknox12/alertbridge/internal/mock"
	"github.com/tknox12/alertbridge/internal/models"
	"github.com/tknox12/alertbridge/internal/resolver"
)

var quoteFields = []string{broker.FieldBid, broker.FieldAsk, broker.FieldLast}

var tickFields = []string{broker.FieldMinTick}

func newTestPlacer(m *mock.Broker) *Placer {
	return NewPlacer(m, resolver.New(m, nil), nil)
}

func testInstrument() *models.Instrument {
	return &models.Instrument{
		Symbol: "AAPL", ConID: 711, Strike: 200,
		Right: models.RightCall, Expiry: "20250919",
	}
}

func expectDefaultTick(m *mock.Broker) {
	m.On("GetMarketSnapshot", tmock.Anything, tmock.Anything, tickFields).
		Return(map[string]string{}, nil)
}

func placedResponse(orderID string) *broker.PlaceResponse {
	return &broker.PlaceResponse{Status: broker.PlaceStatusPlaced, OrderID: orderID}
}

func confirmationResponse(id, text string) *broker.PlaceResponse {
	return &broker.PlaceResponse{
		Status: broker.PlaceStatusConfirmationRequired,
		Prompt: &broker.ConfirmationPrompt{ID: id, Text: text},
	}
}

func TestPlaceEntry_BuyTakesBid(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "1.10", broker.FieldAsk: "1.20"}, nil)
	expectDefaultTick(m)

	var captured *broker.OrderRequest
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) { captured = args.Get(1).(*broker.OrderRequest) }).
		Return(placedResponse("1001"), nil)

	result := p.PlaceEntry(context.Background(), testInstrument(), models.SideBuy, 2)
	require.True(t, result.Placed)
	assert.Equal(t, "1001", result.OrderID)

	require.NotNil(t, captured)
	assert.Equal(t, "LMT", captured.OrderType)
	assert.InDelta(t, 1.10, captured.Price, 1e-9)
	assert.Equal(t, 2, captured.Quantity)
}

func TestPlaceEntry_SellTakesAsk(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "1.10", broker.FieldAsk: "1.20"}, nil)
	expectDefaultTick(m)

	var captured *broker.OrderRequest
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) { captured = args.Get(1).(*broker.OrderRequest) }).
		Return(placedResponse("1002"), nil)

	result := p.PlaceEntry(context.Background(), testInstrument(), models.SideSell, 1)
	require.True(t, result.Placed)
	assert.InDelta(t, 1.20, captured.Price, 1e-9)
}

func TestPlaceEntry_MarketFallbackWithoutQuote(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{}, nil)

	var captured *broker.OrderRequest
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) { captured = args.Get(1).(*broker.OrderRequest) }).
		Return(placedResponse("1003"), nil)

	result := p.PlaceEntry(context.Background(), testInstrument(), models.SideBuy, 1)
	require.True(t, result.Placed)
	assert.Equal(t, "MKT", captured.OrderType)
	assert.Zero(t, captured.Price)
}

func TestSubmit_TwoConfirmationsThenPlaced(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "1.10", broker.FieldAsk: "1.20"}, nil)
	expectDefaultTick(m)

	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Return(confirmationResponse("q1", "Order outside regular trading hours"), nil)
	m.On("AnswerConfirmation", tmock.Anything, "q1", true).
		Return(confirmationResponse("q2", "Order size exceeds usual volume"), nil)
	m.On("AnswerConfirmation", tmock.Anything, "q2", true).
		Return(placedResponse("2001"), nil)

	result := p.PlaceEntry(context.Background(), testInstrument(), models.SideBuy, 1)
	require.True(t, result.Placed)
	assert.Equal(t, 2, result.ConfirmationsProcessed)
}

func TestSubmit_ConfirmationBudgetExhausted(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "1.10", broker.FieldAsk: "1.20"}, nil)
	expectDefaultTick(m)

	// Every answer produces another prompt; the loop must terminate anyway.
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Return(confirmationResponse("q", "Are you sure?"), nil)
	m.On("AnswerConfirmation", tmock.Anything, "q", true).
		Return(confirmationResponse("q", "Are you sure?"), nil)

	result := p.PlaceEntry(context.Background(), testInstrument(), models.SideBuy, 1)
	require.False(t, result.Placed)
	assert.Equal(t, ReasonMaxRounds, result.FailReason)
	assert.Equal(t, DefaultConfig.MaxConfirmationRounds, result.ConfirmationsProcessed)
	m.AssertNumberOfCalls(t, "AnswerConfirmation", DefaultConfig.MaxConfirmationRounds)
}

func TestSubmit_UnansweredQuestionRetriedOnce(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "1.10", broker.FieldAsk: "1.20"}, nil)
	expectDefaultTick(m)

	failed := &broker.PlaceResponse{
		Status: broker.PlaceStatusFailed,
		Reason: `No answer found for question: "Confirm cash quantity order"`,
	}

	var secondCallAnswers map[string]bool
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Return(failed, nil).Once()
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) { secondCallAnswers = args.Get(2).(map[string]bool) }).
		Return(placedResponse("3001"), nil).Once()

	result := p.PlaceEntry(context.Background(), testInstrument(), models.SideBuy, 1)
	require.True(t, result.Placed)
	assert.True(t, secondCallAnswers["Confirm cash quantity order"])
	m.AssertNumberOfCalls(t, "PlaceOrder", 2)
}

func TestSubmit_UnansweredQuestionGivesUpAfterOneRetry(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "1.10", broker.FieldAsk: "1.20"}, nil)
	expectDefaultTick(m)

	failed := &broker.PlaceResponse{
		Status: broker.PlaceStatusFailed,
		Reason: `No answer found for question: "Confirm cash quantity order"`,
	}
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).Return(failed, nil)

	result := p.PlaceEntry(context.Background(), testInstrument(), models.SideBuy, 1)
	require.False(t, result.Placed)
	assert.Equal(t, ReasonBroker, result.FailReason)
	m.AssertNumberOfCalls(t, "PlaceOrder", 2)
}

func TestPlaceExit_RejectsOversizedClose(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetPositions", tmock.Anything).
		Return([]broker.Position{{ConID: 711, Quantity: 3}}, nil)

	// Quantity 5 against an open position of 3 must fail before submission.
	result := p.PlaceExit(context.Background(), testInstrument(), models.SideSell, 5)
	require.False(t, result.Placed)
	assert.Equal(t, ReasonPositionCheck, result.FailReason)
	m.AssertNotCalled(t, "PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything)
}

func TestPlaceExit_MidpointAlignedTowardSeller(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetPositions", tmock.Anything).
		Return([]broker.Position{{ConID: 711, Quantity: 3}}, nil)
	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "1.10", broker.FieldAsk: "1.21"}, nil)
	expectDefaultTick(m)

	var captured *broker.OrderRequest
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) { captured = args.Get(1).(*broker.OrderRequest) }).
		Return(placedResponse("4001"), nil)

	result := p.PlaceExit(context.Background(), testInstrument(), models.SideSell, 3)
	require.True(t, result.Placed)
	// Midpoint 1.155 rounds up for the seller.
	assert.InDelta(t, 1.16, captured.Price, 1e-9)
}

func TestPlaceTrailingExit_StopNotBelowEntry(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetPositions", tmock.Anything).
		Return([]broker.Position{{ConID: 711, Quantity: 2}}, nil)
	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "9.95", broker.FieldAsk: "10.05"}, nil)
	expectDefaultTick(m)

	var captured *broker.OrderRequest
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) { captured = args.Get(1).(*broker.OrderRequest) }).
		Return(placedResponse("5001"), nil)

	result := p.PlaceTrailingExit(context.Background(), testInstrument(), models.SideSell, 2, 9.50)
	require.True(t, result.Placed)

	assert.Equal(t, "TRAILLMT", captured.OrderType)
	assert.InDelta(t, 1.00, captured.TrailAmt, 1e-9) // 10% of the 10.00 reference
	// Raw stop would be 9.00; the entry basis floors it at 9.50.
	assert.InDelta(t, 9.50, captured.AuxPrice, 1e-9)
	assert.InDelta(t, 9.49, captured.Price, 1e-9)
}

func TestPlaceTrailingExit_BuySideStop(t *testing.T) {
	m := &mock.Broker{}
	p := newTestPlacer(m)

	m.On("GetPositions", tmock.Anything).
		Return([]broker.Position{{ConID: 711, Quantity: -2}}, nil)
	m.On("GetMarketSnapshot", tmock.Anything, int64(711), quoteFields).
		Return(map[string]string{broker.FieldBid: "9.95", broker.FieldAsk: "10.05"}, nil)
	expectDefaultTick(m)

	var captured *broker.OrderRequest
	m.On("PlaceOrder", tmock.Anything, tmock.Anything, tmock.Anything).
		Run(func(args tmock.Arguments) { captured = args.Get(1).(*broker.OrderRequest) }).
		Return(placedResponse("5002"), nil)

	result := p.PlaceTrailingExit(context.Background(), testInstrument(), models.SideBuy, 2, 0)
	require.True(t, result.Placed)
	assert.InDelta(t, 11.00, captured.AuxPrice, 1e-9)
	assert.InDelta(t, 11.01, captured.Price, 1e-9)
}

func TestExtractUnansweredQuestion(t *testing.T) {
	q, ok := extractUnansweredQuestion(`No answer found for question: "Confirm illiquid security"`)
	require.True(t, ok)
	assert.Equal(t, "Confirm illiquid security", q)

	_, ok = extractUnansweredQuestion("order rejected: insufficient funds")
	assert.False(t, ok)

	_, ok = extractUnansweredQuestion("No answer found for question without quotes")
	assert.False(t, ok)
}

func TestResultSummary(t *testing.T) {
	placed := &Result{Placed: true, OrderID: "42", ConfirmationsProcessed: 2}
	assert.Contains(t, placed.Summary(), "42")
	assert.Contains(t, placed.Summary(), "2 confirmations")

	failed := &Result{FailReason: ReasonPositionCheck, Detail: "open position 3 is smaller than requested quantity 5"}
	assert.Contains(t, failed.Summary(), "POSITION_CHECK")
}
