// Package orders implements the confirmation-loop order placer: one
// submission call that iteratively answers brokerage confirmation prompts
// until the order is placed or a round budget is exhausted.
package orders

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tknox12/alertbridge/internal/broker"
	"github.com/tknox12/alertbridge/internal/models"
	"github.com/tknox12/alertbridge/internal/resolver"
	"github.com/tknox12/alertbridge/internal/retry"
	"github.com/tknox12/alertbridge/internal/util"
)

// quantityEpsilon tolerates float drift in broker-reported position sizes.
const quantityEpsilon = 1e-6

// FailReason classifies a failed placement.
type FailReason string

const (
	// ReasonMaxRounds means the confirmation round budget was exhausted.
	ReasonMaxRounds FailReason = "MAX_CONFIRMATION_ROUNDS"
	// ReasonPositionCheck means a close/trail was rejected because the broker
	// reports a smaller open position than requested.
	ReasonPositionCheck FailReason = "POSITION_CHECK"
	// ReasonBroker means the gateway rejected the order or was unreachable.
	ReasonBroker FailReason = "BROKER"
)

// Result is the terminal outcome of one placement call.
type Result struct {
	Placed                 bool       `json:"placed"`
	OrderID                string     `json:"order_id,omitempty"`
	ConfirmationsProcessed int        `json:"confirmations_processed"`
	FailReason             FailReason `json:"fail_reason,omitempty"`
	Detail                 string     `json:"detail,omitempty"`
}

// Summary renders the result for the operator-facing session text.
func (r *Result) Summary() string {
	if r.Placed {
		if r.ConfirmationsProcessed > 0 {
			return fmt.Sprintf("✅ Order %s placed (%d confirmations answered)", r.OrderID, r.ConfirmationsProcessed)
		}
		return fmt.Sprintf("✅ Order %s placed", r.OrderID)
	}
	return fmt.Sprintf("❌ Order failed (%s): %s", r.FailReason, r.Detail)
}

// Config controls placer behavior.
type Config struct {
	// MaxConfirmationRounds bounds how many prompts one placement will answer.
	MaxConfirmationRounds int
	// TrailPercent sizes the trailing amount relative to the reference price.
	TrailPercent float64
}

// DefaultConfig is used when no config is supplied.
var DefaultConfig = Config{
	MaxConfirmationRounds: 5,
	TrailPercent:          0.10,
}

// Confirmation texts answered affirmatively without operator involvement.
var defaultKnownAnswers = map[string]bool{
	"stop order types": true,
	"illiquid":         true,
}

var quotedTextPattern = regexp.MustCompile(`"([^"]+)"`)

// Placer submits orders through the gateway's confirmation protocol.
type Placer struct {
	broker   broker.Broker
	resolver *resolver.Resolver
	retrier  *retry.Client
	logger   *log.Logger
	config   Config
}

// NewPlacer creates a Placer.
func NewPlacer(b broker.Broker, res *resolver.Resolver, logger *log.Logger, config ...Config) *Placer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxConfirmationRounds <= 0 || cfg.MaxConfirmationRounds > 10 {
		cfg.MaxConfirmationRounds = DefaultConfig.MaxConfirmationRounds
	}
	if cfg.TrailPercent <= 0 {
		cfg.TrailPercent = DefaultConfig.TrailPercent
	}
	return &Placer{
		broker:   b,
		resolver: res,
		retrier:  retry.NewClient(logger),
		logger:   logger,
		config:   cfg,
	}
}

// PlaceEntry submits an opening order. Entries take the favorable side of
// the quoted spread (bid for buys, ask for sells) over the midpoint, and
// fall back to a market order when no usable quote exists.
func (p *Placer) PlaceEntry(ctx context.Context, inst *models.Instrument, side models.OrderSide, quantity int) *Result {
	bid, ask, _ := p.quote(ctx, inst.ConID)

	price := 0.0
	if side == models.SideBuy && bid > 0 {
		price = bid
	} else if side == models.SideSell && ask > 0 {
		price = ask
	} else {
		price = util.Midpoint(bid, ask)
	}

	req := p.limitOrMarket(ctx, inst, side, quantity, price)
	return p.submit(ctx, req)
}

// PlaceExit submits a closing order after verifying the broker actually
// reports an open position of at least the requested size. Exits prefer a
// tick-aligned midpoint limit, falling back to a market order.
func (p *Placer) PlaceExit(ctx context.Context, inst *models.Instrument, side models.OrderSide, quantity int) *Result {
	if result := p.verifyClosable(ctx, inst.ConID, quantity); result != nil {
		return result
	}

	bid, ask, _ := p.quote(ctx, inst.ConID)
	price := util.Midpoint(bid, ask)

	req := p.limitOrMarket(ctx, inst, side, quantity, price)
	return p.submit(ctx, req)
}

// PlaceTrailingExit submits a trailing-limit exit. The trail amount is
// TrailPercent of the reference price, the limit offset is one tick, and for
// sells the initial stop is never set below the position's entry basis.
func (p *Placer) PlaceTrailingExit(ctx context.Context, inst *models.Instrument, side models.OrderSide,
	quantity int, entryBasis float64) *Result {
	if result := p.verifyClosable(ctx, inst.ConID, quantity); result != nil {
		return result
	}

	bid, ask, last := p.quote(ctx, inst.ConID)
	ref := util.Midpoint(bid, ask)
	if ref <= 0 {
		ref = last
	}
	if ref <= 0 {
		return &Result{FailReason: ReasonBroker, Detail: fmt.Sprintf("no usable quote for conid %d", inst.ConID)}
	}

	tick := p.resolver.MinTick(ctx, inst.ConID, inst.Symbol)
	trail := util.RoundToTick(ref*p.config.TrailPercent, tick)
	if trail < tick {
		trail = tick
	}

	var stop, limit float64
	if side == models.SideSell {
		stop = util.AlignPrice(ref-trail, tick, side)
		if entryBasis > 0 && stop < entryBasis {
			stop = util.AlignPrice(entryBasis, tick, side)
		}
		limit = stop - tick
	} else {
		stop = util.AlignPrice(ref+trail, tick, side)
		limit = stop + tick
	}

	req := &broker.OrderRequest{
		ConID:     inst.ConID,
		Side:      side,
		Quantity:  quantity,
		OrderType: "TRAILLMT",
		Price:     limit,
		AuxPrice:  stop,
		TrailAmt:  trail,
		TIF:       "DAY",
		Ref:       orderRef(),
	}
	p.logger.Printf("Trailing exit for %s: ref=%.2f trail=%.2f stop=%.2f limit=%.2f",
		inst.Description(), ref, trail, stop, limit)
	return p.submit(ctx, req)
}

// OpenQuantity returns the absolute broker-reported open quantity for a
// contract, or 0 when no position exists.
func (p *Placer) OpenQuantity(ctx context.Context, conID int64) (float64, error) {
	positions, err := p.broker.GetPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching positions: %w", err)
	}
	for i := range positions {
		if positions[i].ConID == conID {
			q := positions[i].Quantity
			if q < 0 {
				q = -q
			}
			return q, nil
		}
	}
	return 0, nil
}

// verifyClosable rejects close/trail requests larger than the open position
// before anything reaches the gateway. Returns nil when the close may proceed.
func (p *Placer) verifyClosable(ctx context.Context, conID int64, quantity int) *Result {
	open, err := p.OpenQuantity(ctx, conID)
	if err != nil {
		return &Result{FailReason: ReasonBroker, Detail: err.Error()}
	}
	if open+quantityEpsilon < float64(quantity) {
		return &Result{
			FailReason: ReasonPositionCheck,
			Detail:     fmt.Sprintf("open position %g is smaller than requested quantity %d", open, quantity),
		}
	}
	return nil
}

func (p *Placer) limitOrMarket(ctx context.Context, inst *models.Instrument, side models.OrderSide,
	quantity int, price float64) *broker.OrderRequest {
	req := &broker.OrderRequest{
		ConID:    inst.ConID,
		Side:     side,
		Quantity: quantity,
		TIF:      "DAY",
		Ref:      orderRef(),
	}
	if price > 0 {
		tick := p.resolver.MinTick(ctx, inst.ConID, inst.Symbol)
		req.OrderType = "LMT"
		req.Price = util.AlignPrice(price, tick, side)
	} else {
		p.logger.Printf("No usable quote for %s, using market order", inst.Description())
		req.OrderType = "MKT"
	}
	return req
}

func (p *Placer) quote(ctx context.Context, conID int64) (bid, ask, last float64) {
	snap, err := p.broker.GetMarketSnapshot(ctx, conID,
		[]string{broker.FieldBid, broker.FieldAsk, broker.FieldLast})
	if err != nil {
		p.logger.Printf("Quote lookup failed for conid %d: %v", conID, err)
		return 0, 0, 0
	}
	parse := func(field string) float64 {
		v, perr := strconv.ParseFloat(snap[field], 64)
		if perr != nil || v <= 0 {
			return 0
		}
		return v
	}
	return parse(broker.FieldBid), parse(broker.FieldAsk), parse(broker.FieldLast)
}

func orderRef() string {
	return "ab-" + uuid.NewString()[:8]
}

// extractUnansweredQuestion pulls the literal question text out of an
// "unanswered question" rejection so the submission can be retried with it
// as an answer key.
func extractUnansweredQuestion(reason string) (string, bool) {
	if !strings.Contains(strings.ToLower(reason), "no answer found") {
		return "", false
	}
	m := quotedTextPattern.FindStringSubmatch(reason)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// submit runs the confirmation loop: SUBMITTED -> (CONFIRMATION_REQUIRED ->
// CONFIRMED)* -> PLACED, or FAILED on budget exhaustion or rejection. An
// "unanswered question" rejection is retried exactly once with the extracted
// question added to the answer table.
func (p *Placer) submit(ctx context.Context, req *broker.OrderRequest) *Result {
	answers := make(map[string]bool, len(defaultKnownAnswers)+1)
	for k, v := range defaultKnownAnswers {
		answers[k] = v
	}

	var resp *broker.PlaceResponse
	place := func(c context.Context) error {
		var err error
		resp, err = p.broker.PlaceOrder(c, req, answers)
		return err
	}

	desc := fmt.Sprintf("%s %d conid %d", req.Side, req.Quantity, req.ConID)
	if err := p.retrier.Do(ctx, "order "+desc, place); err != nil {
		return &Result{FailReason: ReasonBroker, Detail: err.Error()}
	}

	confirmations := 0
	questionRetried := false
	for {
		switch resp.Status {
		case broker.PlaceStatusPlaced:
			p.logger.Printf("Order %s placed: id=%s confirmations=%d", desc, resp.OrderID, confirmations)
			return &Result{Placed: true, OrderID: resp.OrderID, ConfirmationsProcessed: confirmations}

		case broker.PlaceStatusConfirmationRequired:
			if confirmations >= p.config.MaxConfirmationRounds {
				return &Result{
					ConfirmationsProcessed: confirmations,
					FailReason:             ReasonMaxRounds,
					Detail: fmt.Sprintf("confirmation budget of %d rounds exhausted; last prompt: %s",
						p.config.MaxConfirmationRounds, resp.Prompt.Text),
				}
			}
			confirmations++
			p.logger.Printf("Answering confirmation %d for %s: %s", confirmations, desc, resp.Prompt.Text)
			next, err := p.broker.AnswerConfirmation(ctx, resp.Prompt.ID, true)
			if err != nil {
				return &Result{ConfirmationsProcessed: confirmations, FailReason: ReasonBroker, Detail: err.Error()}
			}
			resp = next

		default:
			if question, ok := extractUnansweredQuestion(resp.Reason); ok && !questionRetried {
				questionRetried = true
				answers[question] = true
				p.logger.Printf("Resubmitting %s with extracted answer key %q", desc, question)
				if err := p.retrier.Do(ctx, "order resubmission "+desc, place); err != nil {
					return &Result{ConfirmationsProcessed: confirmations, FailReason: ReasonBroker, Detail: err.Error()}
				}
				continue
			}
			return &Result{ConfirmationsProcessed: confirmations, FailReason: ReasonBroker, Detail: resp.Reason}
		}
	}
}
