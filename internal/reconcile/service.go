// Package reconcile drains the broker order-update stream, classifies fill
// events, matches them against stored alerts, and idempotently marks matched
// alerts open. It owns the processed-order-id set and the reconciliation
// statistics exposed on the admin surface.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tknox12/alertbridge/internal/broker"
	"github.com/tknox12/alertbridge/internal/models"
	"github.com/tknox12/alertbridge/internal/storage"
)

// strikeTolerance bounds the strike difference accepted when both the event
// and the stored contract report one.
const strikeTolerance = 0.01

// Config controls the reconciliation loop.
type Config struct {
	// IdleInterval is the sleep between polls when the stream is empty.
	IdleInterval time.Duration
	// BusyInterval is the sleep after processing a non-empty batch.
	BusyInterval time.Duration
	// ProcessedCap bounds the processed-order-id set; the oldest ids are
	// evicted first once the cap is reached.
	ProcessedCap int
	// Alerters is the fixed set of known alerter identities matched against
	// incoming events, in addition to alerters present in the stores.
	Alerters []string
}

// DefaultConfig provides sensible defaults for the reconciliation loop.
var DefaultConfig = Config{
	IdleInterval: 5 * time.Second,
	BusyInterval: 1 * time.Second,
	ProcessedCap: 10_000,
}

// Stats summarizes reconciliation activity since process start.
type Stats struct {
	EventsSeen   int64     `json:"events_seen"`
	FillsMatched int64     `json:"fills_matched"`
	AlertsOpened int64     `json:"alerts_opened"`
	AlertsClosed int64     `json:"alerts_closed"`
	Duplicates   int64     `json:"duplicates"`
	Unmatched    int64     `json:"unmatched_fills"`
	LastEventAt  time.Time `json:"last_event_at,omitempty"`
}

// Service is the long-running fill reconciliation task.
type Service struct {
	broker    broker.Broker
	alerts    *storage.AlertStore
	contracts *storage.ContractStore
	logger    *log.Logger
	config    Config

	mu        sync.Mutex
	processed map[string]struct{}
	fifo      []string
	stats     Stats

	stop     chan struct{}
	stopOnce sync.Once
}

// NewService creates a reconciliation service.
func NewService(b broker.Broker, alerts *storage.AlertStore, contracts *storage.ContractStore,
	logger *log.Logger, config ...Config) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultConfig.IdleInterval
	}
	if cfg.BusyInterval <= 0 {
		cfg.BusyInterval = DefaultConfig.BusyInterval
	}
	if cfg.ProcessedCap <= 0 {
		cfg.ProcessedCap = DefaultConfig.ProcessedCap
	}
	return &Service{
		broker:    b,
		alerts:    alerts,
		contracts: contracts,
		logger:    logger,
		config:    cfg,
		processed: make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
}

// Run drives the poll loop until the context is canceled or Stop is called.
// The stream subscription is closed before returning; an event that has
// already been matched and applied is never dropped by cancellation.
func (s *Service) Run(ctx context.Context) error {
	if err := s.broker.SubscribeOrderStream(ctx); err != nil {
		return fmt.Errorf("subscribing to order stream: %w", err)
	}
	defer func() {
		// The run context is usually already canceled here; give the
		// unsubscribe call its own deadline.
		unsubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.broker.UnsubscribeOrderStream(unsubCtx); err != nil {
			s.logger.Printf("Failed to unsubscribe from order stream: %v", err)
		}
	}()

	s.logger.Println("Reconciliation service started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		default:
		}

		events, err := s.broker.PollOrderStream(ctx)
		if err != nil {
			s.logger.Printf("Order stream poll failed: %v", err)
			if !s.sleep(ctx, s.config.IdleInterval) {
				return nil
			}
			continue
		}

		if len(events) == 0 {
			if !s.sleep(ctx, s.config.IdleInterval) {
				return nil
			}
			continue
		}

		for i := range events {
			s.processEvent(&events[i], false)
		}
		if !s.sleep(ctx, s.config.BusyInterval) {
			return nil
		}
	}
}

// Stop signals the run loop to exit. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	case <-timer.C:
		return true
	}
}

// ForceReconcile synchronously re-walks current broker orders and pushes any
// fill-classified ones through the normal pipeline, bypassing the
// processed-id filter. Returns the number of fills processed.
func (s *Service) ForceReconcile(ctx context.Context) (int, error) {
	events, err := s.broker.GetOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching orders: %w", err)
	}

	count := 0
	for i := range events {
		if !events[i].IsFill() {
			continue
		}
		s.processEvent(&events[i], true)
		count++
	}
	s.logger.Printf("Force reconcile processed %d fills out of %d orders", count, len(events))
	return count, nil
}

// SimulateEvent injects one synthetic order event through the normal
// pipeline. Events without an order id get a generated one.
func (s *Service) SimulateEvent(event models.OrderEvent) {
	if event.OrderID == "" {
		event.OrderID = "sim-" + uuid.NewString()[:8]
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	s.logger.Printf("Simulating order event %s %s %s", event.OrderID, event.Symbol, event.Status)
	s.processEvent(&event, false)
}

// Stats returns a copy of the current counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// target identifies one alert an event should be applied to.
type target struct {
	alerter string
	ticker  string
}

// processEvent runs one event through classify/match/apply. force bypasses
// the processed-id set. Failures are isolated per event: a bad message is
// logged and recorded as processed so it cannot wedge the loop.
func (s *Service) processEvent(event *models.OrderEvent, force bool) {
	s.mu.Lock()
	s.stats.EventsSeen++
	s.stats.LastEventAt = time.Now()
	if !force && event.OrderID != "" {
		if _, dup := s.processed[event.OrderID]; dup {
			s.stats.Duplicates++
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()

	defer s.recordProcessed(event.OrderID)

	if !event.IsFill() {
		return
	}

	targets := s.match(event)
	if len(targets) == 0 {
		s.mu.Lock()
		s.stats.Unmatched++
		s.mu.Unlock()
		s.logger.Printf("Fill %s (%s %s qty %g) matched no alerts",
			event.OrderID, event.Symbol, event.Side, event.FilledQty)
		return
	}

	s.mu.Lock()
	s.stats.FillsMatched++
	s.mu.Unlock()

	for _, t := range targets {
		s.apply(event, t)
	}
}

func (s *Service) recordProcessed(orderID string) {
	if orderID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[orderID]; ok {
		return
	}
	s.processed[orderID] = struct{}{}
	s.fifo = append(s.fifo, orderID)
	for len(s.fifo) > s.config.ProcessedCap {
		evicted := s.fifo[0]
		s.fifo = s.fifo[1:]
		delete(s.processed, evicted)
	}
}

// knownAlerters is the union of the configured identities and every alerter
// present in either store.
func (s *Service) knownAlerters() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range s.config.Alerters {
		add(name)
	}
	for _, name := range s.alerts.Alerters() {
		add(name)
	}
	for name := range s.contracts.All() {
		add(name)
	}
	return out
}

// match finds the alerts an event belongs to: by the per-alerter stored
// singleton contract's symbol (with strike tolerance when both sides report
// one), or directly by an active alert for the event's symbol. An event may
// match zero, one, or more alerts.
func (s *Service) match(event *models.OrderEvent) []target {
	symbol := strings.ToUpper(strings.TrimSpace(event.Symbol))
	if symbol == "" {
		return nil
	}

	var targets []target
	for _, alerter := range s.knownAlerters() {
		if contract, ok := s.contracts.Get(alerter); ok && contractMatches(&contract, event, symbol) {
			targets = append(targets, target{alerter: alerter, ticker: contract.Symbol})
			continue
		}
		if alert, ok := s.alerts.Get(alerter, symbol); ok && alert.IsActive() {
			targets = append(targets, target{alerter: alerter, ticker: symbol})
		}
	}
	return targets
}

func contractMatches(contract *models.StoredContract, event *models.OrderEvent, symbol string) bool {
	if !strings.EqualFold(contract.Symbol, symbol) {
		return false
	}
	if contract.Strike > 0 && event.Strike > 0 {
		diff := contract.Strike - event.Strike
		if diff < 0 {
			diff = -diff
		}
		if diff > strikeTolerance {
			return false
		}
	}
	if contract.ConID > 0 && event.ConID > 0 && contract.ConID != event.ConID {
		return false
	}
	return true
}

// closingSideFor returns the order side that exits a position opened on the
// given sentiment: bullish positions close by selling, bearish by buying.
func closingSideFor(sentiment models.Sentiment) models.OrderSide {
	if sentiment == models.SentimentBearish {
		return models.SideBuy
	}
	return models.SideSell
}

// apply marks the matched alert open, or closed when the fill opposes the
// alert's sentiment on an already-open position.
func (s *Service) apply(event *models.OrderEvent, t target) {
	alert, ok := s.alerts.Get(t.alerter, t.ticker)
	if !ok {
		s.logger.Printf("Matched contract for %s but no alert record for %s", t.alerter, t.ticker)
		return
	}

	if alert.Open && event.Side == closingSideFor(alert.Sentiment) {
		if s.alerts.Close(t.alerter, t.ticker) {
			s.mu.Lock()
			s.stats.AlertsClosed++
			s.mu.Unlock()
			s.logger.Printf("Closure fill %s applied to %s/%s", event.OrderID, t.alerter, t.ticker)
		}
		return
	}

	if s.alerts.MarkOpen(t.alerter, t.ticker) {
		s.mu.Lock()
		s.stats.AlertsOpened++
		s.mu.Unlock()
		s.logger.Printf("Fill %s marked %s/%s open", event.OrderID, t.alerter, t.ticker)
	}
}
