package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tknox12/alertbridge/internal/models"
)

// Market snapshot field names understood by the gateway.
const (
	FieldBid     = "bid"
	FieldAsk     = "ask"
	FieldLast    = "last"
	FieldMinTick = "min_tick"
)

// maxResponseBytes caps gateway response bodies to guard against a
// misbehaving endpoint streaming unbounded data.
const maxResponseBytes = 4 << 20

// knownAnswerBound limits how many prompts PlaceOrder will auto-answer from
// the known-answer table in a single submission.
const knownAnswerBound = 5

// GatewayClient is the HTTP client for the brokerage gateway.
type GatewayClient struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	accountID string
	timeout   time.Duration
	logger    *log.Logger
}

// NewGatewayClient creates a gateway client with default settings.
func NewGatewayClient(baseURL, apiKey, accountID string) *GatewayClient {
	return NewGatewayClientWithTimeout(baseURL, apiKey, accountID, 15*time.Second)
}

// NewGatewayClientWithTimeout creates a gateway client with a custom HTTP timeout.
func NewGatewayClientWithTimeout(baseURL, apiKey, accountID string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		accountID: accountID,
		timeout:   timeout,
		logger:    log.New(io.Discard, "", 0),
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (g *GatewayClient) WithHTTPClient(c *http.Client) *GatewayClient {
	if c != nil {
		g.client = c
	}
	return g
}

// WithLogger attaches a logger for request diagnostics.
func (g *GatewayClient) WithLogger(l *log.Logger) *GatewayClient {
	if l != nil {
		g.logger = l
	}
	return g
}

func (g *GatewayClient) doRequest(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	endpoint := g.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Printf("closing response body: %v", cerr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// ============ Account ============

type positionsResponse []Position

// GetPositions returns the account's current holdings.
func (g *GatewayClient) GetPositions(ctx context.Context) ([]Position, error) {
	var resp positionsResponse
	path := fmt.Sprintf("/portfolio/%s/positions", g.accountID)
	if err := g.doRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	return resp, nil
}

type orderWire struct {
	OrderID      json.Number `json:"orderId"`
	ConID        int64       `json:"conid"`
	Ticker       string      `json:"ticker"`
	Status       string      `json:"status"`
	Side         string      `json:"side"`
	FilledQty    float64     `json:"filledQuantity"`
	RemainingQty float64     `json:"remainingQuantity"`
	AvgPrice     float64     `json:"avgPrice"`
	Strike       float64     `json:"strike,omitempty"`
	Right        string      `json:"putOrCall,omitempty"`
	Expiry       string      `json:"expiry,omitempty"`
}

type ordersResponse struct {
	Orders singleOrArray[orderWire] `json:"orders"`
}

func (w *orderWire) toEvent() models.OrderEvent {
	return models.OrderEvent{
		OrderID:      w.OrderID.String(),
		ConID:        w.ConID,
		Symbol:       w.Ticker,
		Status:       w.Status,
		Side:         models.OrderSide(strings.ToUpper(w.Side)),
		FilledQty:    w.FilledQty,
		RemainingQty: w.RemainingQty,
		AvgPrice:     w.AvgPrice,
		Strike:       w.Strike,
		Right:        models.OptionRight(w.Right),
		Expiry:       w.Expiry,
		ReceivedAt:   time.Now(),
	}
}

// GetOrders returns today's orders normalized into order events.
func (g *GatewayClient) GetOrders(ctx context.Context) ([]models.OrderEvent, error) {
	var resp ordersResponse
	if err := g.doRequest(ctx, http.MethodGet, "/iserver/account/orders", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching orders: %w", err)
	}
	events := make([]models.OrderEvent, 0, len(resp.Orders))
	for i := range resp.Orders {
		events = append(events, resp.Orders[i].toEvent())
	}
	return events, nil
}

// ============ Instrument discovery ============

type searchWire struct {
	ConID       json.Number `json:"conid"`
	Symbol      string      `json:"symbol"`
	Description string      `json:"description"`
	SecType     string      `json:"secType"`
	Exchange    string      `json:"exchange"`
	Currency    string      `json:"currency"`
}

// SearchInstrument looks up instruments matching query and normalizes the
// response into a tagged variant so callers never branch on raw shape.
func (g *GatewayClient) SearchInstrument(ctx context.Context, query string) (SearchResult, error) {
	params := url.Values{}
	params.Set("symbol", query)

	var resp singleOrArray[searchWire]
	if err := g.doRequest(ctx, http.MethodGet, "/iserver/secdef/search", params, nil, &resp); err != nil {
		return NotFound(), fmt.Errorf("searching %q: %w", query, err)
	}

	candidates := make([]models.Instrument, 0, len(resp))
	for _, w := range resp {
		conid, err := w.ConID.Int64()
		if err != nil || conid == 0 {
			continue
		}
		candidates = append(candidates, models.Instrument{
			Symbol:   w.Symbol,
			ConID:    conid,
			Exchange: w.Exchange,
			Currency: w.Currency,
		})
	}

	switch len(candidates) {
	case 0:
		return NotFound(), nil
	case 1:
		return Found(&candidates[0]), nil
	default:
		return Ambiguous(candidates), nil
	}
}

type strikesResponse struct {
	Call []float64 `json:"call"`
	Put  []float64 `json:"put"`
}

// GetStrikes returns the sorted union of listed call and put strikes for an
// underlying in the given month (MMMYY, e.g. SEP25).
func (g *GatewayClient) GetStrikes(ctx context.Context, underlyingConID int64, month string) ([]float64, error) {
	params := url.Values{}
	params.Set("conid", strconv.FormatInt(underlyingConID, 10))
	params.Set("sectype", "OPT")
	params.Set("month", month)

	var resp strikesResponse
	if err := g.doRequest(ctx, http.MethodGet, "/iserver/secdef/strikes", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching strikes: %w", err)
	}

	seen := make(map[float64]bool, len(resp.Call)+len(resp.Put))
	strikes := make([]float64, 0, len(resp.Call)+len(resp.Put))
	for _, s := range append(resp.Call, resp.Put...) {
		if !seen[s] {
			seen[s] = true
			strikes = append(strikes, s)
		}
	}
	sort.Float64s(strikes)
	return strikes, nil
}

type secdefInfoWire struct {
	ConID        json.Number `json:"conid"`
	Symbol       string      `json:"symbol"`
	Strike       float64     `json:"strike"`
	Right        string      `json:"right"`
	MaturityDate string      `json:"maturityDate"`
	Exchange     string      `json:"exchange"`
	Currency     string      `json:"currency"`
	TradingClass string      `json:"tradingClass"`
	Multiplier   string      `json:"multiplier"`
}

// GetInstrumentDefinition resolves one concrete option contract. Returns nil
// when the gateway lists nothing for the requested terms.
func (g *GatewayClient) GetInstrumentDefinition(ctx context.Context, underlyingConID int64, month string,
	strike float64, right models.OptionRight) (*models.Instrument, error) {
	params := url.Values{}
	params.Set("conid", strconv.FormatInt(underlyingConID, 10))
	params.Set("sectype", "OPT")
	params.Set("month", month)
	params.Set("strike", strconv.FormatFloat(strike, 'f', -1, 64))
	params.Set("right", string(right))

	var resp singleOrArray[secdefInfoWire]
	if err := g.doRequest(ctx, http.MethodGet, "/iserver/secdef/info", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching contract definition: %w", err)
	}

	for _, w := range resp {
		conid, err := w.ConID.Int64()
		if err != nil || conid == 0 {
			continue
		}
		if w.Strike != 0 && absFloat(w.Strike-strike) > StrikeMatchEpsilon {
			continue
		}
		return &models.Instrument{
			Symbol:       w.Symbol,
			ConID:        conid,
			Strike:       w.Strike,
			Right:        models.OptionRight(w.Right),
			Expiry:       w.MaturityDate,
			Exchange:     w.Exchange,
			Currency:     w.Currency,
			TradingClass: w.TradingClass,
			Multiplier:   w.Multiplier,
		}, nil
	}
	return nil, nil
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// GetMarketSnapshot fetches the requested quote fields for one instrument.
// Missing fields are absent from the returned map, not errors.
func (g *GatewayClient) GetMarketSnapshot(ctx context.Context, conID int64, fields []string) (map[string]string, error) {
	params := url.Values{}
	params.Set("conids", strconv.FormatInt(conID, 10))
	params.Set("fields", strings.Join(fields, ","))

	var resp singleOrArray[map[string]interface{}]
	if err := g.doRequest(ctx, http.MethodGet, "/iserver/marketdata/snapshot", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching snapshot: %w", err)
	}
	if len(resp) == 0 {
		return map[string]string{}, nil
	}

	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := resp[0][f]; ok {
			out[f] = fmt.Sprintf("%v", v)
		}
	}
	return out, nil
}

// ============ Order placement ============

type placeWire struct {
	OrderID     string              `json:"order_id"`
	OrderStatus string              `json:"order_status"`
	ID          string              `json:"id"`
	Message     singleOrArray[string] `json:"message"`
	Error       string              `json:"error"`
}

func (w *placeWire) toResponse() *PlaceResponse {
	if w.Error != "" {
		return &PlaceResponse{Status: PlaceStatusFailed, Reason: w.Error}
	}
	if w.ID != "" {
		text := ""
		if len(w.Message) > 0 {
			text = w.Message[0]
		}
		return &PlaceResponse{
			Status: PlaceStatusConfirmationRequired,
			Prompt: &ConfirmationPrompt{ID: w.ID, Text: text},
		}
	}
	return &PlaceResponse{Status: PlaceStatusPlaced, OrderID: w.OrderID}
}

// matchKnownAnswer finds a pre-supplied answer whose key appears in the
// prompt text, case-insensitively.
func matchKnownAnswer(promptText string, knownAnswers map[string]bool) (bool, bool) {
	text := strings.ToLower(promptText)
	for key, answer := range knownAnswers {
		if strings.Contains(text, strings.ToLower(key)) {
			return answer, true
		}
	}
	return false, false
}

// PlaceOrder submits one order. Confirmation prompts whose text matches an
// entry in knownAnswers are answered automatically; the first unrecognized
// prompt is returned to the caller as ConfirmationRequired.
func (g *GatewayClient) PlaceOrder(ctx context.Context, req *OrderRequest, knownAnswers map[string]bool) (*PlaceResponse, error) {
	body := map[string]interface{}{"orders": []*OrderRequest{req}}
	path := fmt.Sprintf("/iserver/account/%s/orders", g.accountID)

	var resp singleOrArray[placeWire]
	if err := g.doRequest(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, fmt.Errorf("placing order: %w", err)
	}
	if len(resp) == 0 {
		return &PlaceResponse{Status: PlaceStatusFailed, Reason: "empty response"}, nil
	}

	result := resp[0].toResponse()
	for i := 0; i < knownAnswerBound; i++ {
		if result.Status != PlaceStatusConfirmationRequired {
			return result, nil
		}
		answer, ok := matchKnownAnswer(result.Prompt.Text, knownAnswers)
		if !ok {
			return result, nil
		}
		g.logger.Printf("Auto-answering confirmation %q with %t", result.Prompt.Text, answer)
		next, err := g.AnswerConfirmation(ctx, result.Prompt.ID, answer)
		if err != nil {
			return nil, err
		}
		result = next
	}
	return result, nil
}

// AnswerConfirmation replies to one confirmation prompt.
func (g *GatewayClient) AnswerConfirmation(ctx context.Context, promptID string, confirmed bool) (*PlaceResponse, error) {
	body := map[string]bool{"confirmed": confirmed}
	path := fmt.Sprintf("/iserver/reply/%s", url.PathEscape(promptID))

	var resp singleOrArray[placeWire]
	if err := g.doRequest(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, fmt.Errorf("answering confirmation %s: %w", promptID, err)
	}
	if len(resp) == 0 {
		return &PlaceResponse{Status: PlaceStatusFailed, Reason: "empty response"}, nil
	}
	return resp[0].toResponse(), nil
}

// ============ Order stream ============

// SubscribeOrderStream opens the server-side order-update subscription.
func (g *GatewayClient) SubscribeOrderStream(ctx context.Context) error {
	if err := g.doRequest(ctx, http.MethodPost, "/iserver/notifications/subscribe", nil, nil, nil); err != nil {
		return fmt.Errorf("subscribing to order stream: %w", err)
	}
	return nil
}

// UnsubscribeOrderStream closes the order-update subscription.
func (g *GatewayClient) UnsubscribeOrderStream(ctx context.Context) error {
	if err := g.doRequest(ctx, http.MethodPost, "/iserver/notifications/unsubscribe", nil, nil, nil); err != nil {
		return fmt.Errorf("unsubscribing from order stream: %w", err)
	}
	return nil
}

type streamResponse struct {
	Events singleOrArray[orderWire] `json:"events"`
}

// PollOrderStream drains queued order updates. An empty slice means no
// updates were pending.
func (g *GatewayClient) PollOrderStream(ctx context.Context) ([]models.OrderEvent, error) {
	var resp streamResponse
	if err := g.doRequest(ctx, http.MethodGet, "/iserver/notifications", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("polling order stream: %w", err)
	}
	events := make([]models.OrderEvent, 0, len(resp.Events))
	for i := range resp.Events {
		events = append(events, resp.Events[i].toEvent())
	}
	return events, nil
}
