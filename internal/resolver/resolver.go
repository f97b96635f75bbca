// Package resolver turns under-specified alert terms (symbol, maybe strike,
// maybe right, maybe expiration) into a concrete brokerage instrument. It
// owns the resolution caches and the bounded discovery algorithms for the
// nearest listed expiration and the closest in-the-money strike.
package resolver

import (
	"context"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/tknox12/alertbridge/internal/broker"
	"github.com/tknox12/alertbridge/internal/models"
	"github.com/tknox12/alertbridge/internal/util"
)

// Probe budgets. Discovery is bounded by call counts, not wall-clock
// timeouts, so behavior stays deterministic under a slow gateway.
const (
	// MaxProbesPerMonth caps how many strikes are sampled per target month.
	MaxProbesPerMonth = 3
	// GlobalProbeCap caps total gateway calls across one resolution attempt.
	GlobalProbeCap = 30
	// EarlyWindowDays is the lookahead window preferred when choosing among
	// discovered expirations.
	EarlyWindowDays = 7
)

// tickCacheTTL bounds how long a cached minimum tick is trusted.
const tickCacheTTL = 5 * time.Minute

type contractKey struct {
	Symbol string
	Strike float64
	Right  models.OptionRight
	Expiry string
}

type tickEntry struct {
	value     float64
	expiresAt time.Time
}

// Resolver resolves alert terms to instruments and caches the results.
// Resolved identities live for the process lifetime; tick sizes expire on a
// short TTL because exchanges occasionally change increments intraday.
type Resolver struct {
	broker broker.Broker
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	underlyings map[string]*models.Instrument
	contracts   map[contractKey]*models.Instrument
	expirations map[string]string
	ticks       map[int64]tickEntry
}

// Request describes one resolution. Strike, Right, and Expiry are optional;
// missing fields are discovered with documented defaults.
type Request struct {
	Symbol    string
	Strike    float64
	Right     models.OptionRight
	Expiry    string // YYYYMMDD
	Sentiment models.Sentiment
}

// New creates a Resolver backed by b.
func New(b broker.Broker, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{
		broker:      b,
		logger:      logger,
		now:         time.Now,
		underlyings: make(map[string]*models.Instrument),
		contracts:   make(map[contractKey]*models.Instrument),
		expirations: make(map[string]string),
		ticks:       make(map[int64]tickEntry),
	}
}

// probeBudget tracks remaining gateway calls for one resolution attempt.
type probeBudget struct {
	remaining int
}

func newProbeBudget() *probeBudget {
	return &probeBudget{remaining: GlobalProbeCap}
}

func (b *probeBudget) spend() bool {
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Resolve maps a request to an instrument. Failures degrade to NotFound
// rather than returning an error; callers apply their own defaults.
func (r *Resolver) Resolve(ctx context.Context, req Request) broker.SearchResult {
	budget := newProbeBudget()

	right := req.Right
	if right == "" {
		right = models.RightForSentiment(req.Sentiment)
	}

	expiry := req.Expiry
	if expiry == "" {
		var err error
		expiry, err = r.nearestExpiration(ctx, req.Symbol, budget)
		if err != nil {
			r.logger.Printf("Expiration discovery failed for %s: %v", req.Symbol, err)
			return broker.NotFound()
		}
	}

	key := contractKey{Symbol: req.Symbol, Strike: req.Strike, Right: right, Expiry: expiry}
	r.mu.Lock()
	if cached, ok := r.contracts[key]; ok {
		r.mu.Unlock()
		return broker.Found(cached)
	}
	r.mu.Unlock()

	underlying := r.resolveUnderlying(ctx, req.Symbol, budget)
	if underlying == nil {
		return broker.NotFound()
	}

	month, ok := monthTokenForExpiry(expiry)
	if !ok {
		r.logger.Printf("Unusable expiry %q for %s", expiry, req.Symbol)
		return broker.NotFound()
	}

	strike := req.Strike
	if strike == 0 {
		var err error
		strike, err = r.closestITMStrike(ctx, underlying.ConID, right, month, budget)
		if err != nil {
			r.logger.Printf("Strike discovery failed for %s: %v", req.Symbol, err)
			return broker.NotFound()
		}
	}

	if !budget.spend() {
		r.logger.Printf("Probe budget exhausted resolving %s", req.Symbol)
		return broker.NotFound()
	}
	inst, err := r.broker.GetInstrumentDefinition(ctx, underlying.ConID, month, strike, right)
	if err != nil {
		r.logger.Printf("Contract definition lookup failed for %s: %v", req.Symbol, err)
		return broker.NotFound()
	}
	if inst == nil {
		return broker.NotFound()
	}
	if inst.Symbol == "" {
		inst.Symbol = req.Symbol
	}

	// Cache under the requested tuple so repeat alerts skip the gateway,
	// and under the fully-specified tuple for direct hits.
	r.mu.Lock()
	r.contracts[key] = inst
	r.contracts[contractKey{Symbol: req.Symbol, Strike: inst.Strike, Right: inst.Right, Expiry: inst.Expiry}] = inst
	r.mu.Unlock()

	return broker.Found(inst)
}

// ResolveUnderlying resolves just the underlying identity for a symbol.
func (r *Resolver) ResolveUnderlying(ctx context.Context, symbol string) broker.SearchResult {
	underlying := r.resolveUnderlying(ctx, symbol, newProbeBudget())
	if underlying == nil {
		return broker.NotFound()
	}
	return broker.Found(underlying)
}

func (r *Resolver) resolveUnderlying(ctx context.Context, symbol string, budget *probeBudget) *models.Instrument {
	r.mu.Lock()
	if cached, ok := r.underlyings[symbol]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	if !budget.spend() {
		return nil
	}
	result, err := r.broker.SearchInstrument(ctx, symbol)
	if err != nil {
		r.logger.Printf("Instrument search failed for %s: %v", symbol, err)
		return nil
	}

	var inst *models.Instrument
	switch result.Kind {
	case broker.SearchFound:
		inst = result.Instrument
	case broker.SearchAmbiguous:
		// First candidate wins; the gateway orders by relevance.
		r.logger.Printf("Ambiguous search for %s: %d candidates, using first", symbol, len(result.Candidates))
		inst = &result.Candidates[0]
	default:
		return nil
	}

	r.mu.Lock()
	r.underlyings[symbol] = inst
	r.mu.Unlock()
	return inst
}

// MinTick returns the minimum price increment for an instrument, cached for
// a short TTL keyed by contract id. Falls back to the symbol-class default
// when the gateway does not report one.
func (r *Resolver) MinTick(ctx context.Context, conID int64, symbol string) float64 {
	now := r.now()

	r.mu.Lock()
	if entry, ok := r.ticks[conID]; ok {
		if now.Before(entry.expiresAt) {
			r.mu.Unlock()
			return entry.value
		}
		delete(r.ticks, conID)
	}
	r.mu.Unlock()

	tick := util.TickForSymbol(symbol)
	snap, err := r.broker.GetMarketSnapshot(ctx, conID, []string{broker.FieldMinTick})
	if err != nil {
		r.logger.Printf("Min tick lookup failed for conid %d: %v", conID, err)
		return tick
	}
	if raw, ok := snap[broker.FieldMinTick]; ok {
		if parsed, perr := strconv.ParseFloat(raw, 64); perr == nil && parsed > 0 {
			tick = parsed
		}
	}

	r.mu.Lock()
	r.ticks[conID] = tickEntry{value: tick, expiresAt: now.Add(tickCacheTTL)}
	r.mu.Unlock()
	return tick
}

// spotPrice reads the underlying's last trade from the snapshot endpoint.
func (r *Resolver) spotPrice(ctx context.Context, conID int64, budget *probeBudget) (float64, bool) {
	if !budget.spend() {
		return 0, false
	}
	snap, err := r.broker.GetMarketSnapshot(ctx, conID, []string{broker.FieldLast, broker.FieldBid, broker.FieldAsk})
	if err != nil {
		r.logger.Printf("Spot lookup failed for conid %d: %v", conID, err)
		return 0, false
	}
	for _, field := range []string{broker.FieldLast, broker.FieldBid, broker.FieldAsk} {
		if raw, ok := snap[field]; ok {
			if v, perr := strconv.ParseFloat(raw, 64); perr == nil && v > 0 {
				return v, true
			}
		}
	}
	return 0, false
}
