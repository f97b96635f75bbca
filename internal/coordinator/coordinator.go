// Package coordinator presents alert signals to the operator as interactive
// chat messages with quantity steppers and open/close/trail actions, and
// dispatches the chosen action to the order placer.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/tknox12/alertbridge/internal/broker"
	"github.com/tknox12/alertbridge/internal/models"
	"github.com/tknox12/alertbridge/internal/orders"
	"github.com/tknox12/alertbridge/internal/resolver"
	"github.com/tknox12/alertbridge/internal/storage"
)

// sender is the slice of the bot API the coordinator uses to send and edit
// messages. *tgbotapi.BotAPI satisfies it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Coordinator owns the interactive sessions and the update dispatch loop.
type Coordinator struct {
	bot       sender
	api       *tgbotapi.BotAPI
	chatID    int64
	broker    broker.Broker
	placer    *orders.Placer
	resolver  *resolver.Resolver
	alerts    *storage.AlertStore
	contracts *storage.ContractStore
	logger    *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a coordinator. chatID restricts which chat's callbacks are
// honored; zero accepts any chat.
func New(api *tgbotapi.BotAPI, chatID int64, b broker.Broker, placer *orders.Placer,
	res *resolver.Resolver, alerts *storage.AlertStore, contracts *storage.ContractStore,
	logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Coordinator{
		api:       api,
		chatID:    chatID,
		broker:    b,
		placer:    placer,
		resolver:  res,
		alerts:    alerts,
		contracts: contracts,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
	if api != nil {
		c.bot = api
	}
	return c
}

// OfferSignal records the signal in the alert store, builds a session with
// current position context, and sends the interactive message.
func (c *Coordinator) OfferSignal(ctx context.Context, alerter string, signal models.SignalData) (*Session, error) {
	c.alerts.Upsert(alerter, signal.Ticker, signal)

	var inst *models.Instrument
	result := c.resolver.Resolve(ctx, resolver.Request{
		Symbol:    signal.Ticker,
		Strike:    signal.Strike,
		Right:     signal.Right,
		Expiry:    signal.Expiry,
		Sentiment: signal.Sentiment,
	})
	if result.Kind == broker.SearchFound {
		inst = result.Instrument
	}

	hasPosition := false
	maxCloseable := 0
	entryBasis := 0.0
	if inst != nil {
		if pos := c.positionFor(ctx, inst.ConID); pos != nil {
			hasPosition = true
			maxCloseable = int(abs(pos.Quantity))
			entryBasis = pos.AvgCost
		}
	}

	session := BuildSession(alerter, signal, hasPosition, signal.Quantity, maxCloseable)
	session.ID = uuid.NewString()[:8]
	session.Instrument = inst
	session.EntryBasis = entryBasis

	c.mu.Lock()
	c.sessions[session.ID] = session
	c.mu.Unlock()

	msg := tgbotapi.NewMessage(c.chatID, session.renderText())
	msg.ReplyMarkup = session.keyboard()
	sent, err := c.bot.Send(msg)
	if err != nil {
		return nil, fmt.Errorf("sending action message: %w", err)
	}
	session.ChatID = sent.Chat.ID
	session.MessageID = sent.MessageID
	c.logger.Printf("Session %s offered for %s/%s", session.ID, alerter, session.Ticker)
	return session, nil
}

// Run drives the update dispatch loop until the context is canceled. Updates
// are handled in order; per-session serialization falls out of the single
// dispatch goroutine plus the session mutex.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.api == nil {
		return fmt.Errorf("coordinator has no bot API")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.api.GetUpdatesChan(u)

	c.logger.Println("Coordinator update loop started")
	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if cb := update.CallbackQuery; cb != nil {
				c.HandleCallback(ctx, cb)
			}
		}
	}
}

// HandleCallback dispatches one inline-button press.
func (c *Coordinator) HandleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	if c.chatID != 0 && cb.Message.Chat.ID != c.chatID {
		return
	}

	sessionID, verb, ok := parseToken(cb.Data)
	if !ok {
		return
	}

	c.mu.Lock()
	session, found := c.sessions[sessionID]
	c.mu.Unlock()
	if !found {
		// Sessions are in-memory only; a button from before a restart
		// has nothing to act on.
		if _, err := c.bot.Request(tgbotapi.NewCallback(cb.ID, "session expired")); err != nil {
			c.logger.Printf("Failed to answer stale callback: %v", err)
		}
		return
	}

	// Clear the button spinner before doing any work.
	if _, err := c.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		c.logger.Printf("Failed to answer callback: %v", err)
	}

	switch verb {
	case verbQty:
		return
	case verbOpen, verbClose, verbTrail:
		c.Execute(ctx, session, verb)
	default:
		delta, err := strconv.Atoi(verb)
		if err != nil {
			c.logger.Printf("Unknown callback verb %q for session %s", verb, sessionID)
			return
		}
		session.mu.Lock()
		session.AdjustQuantity(delta)
		session.mu.Unlock()
	}

	c.rerender(session)
}

// Execute runs one open/close/trail action against the placer and stores the
// outcome on the session. Actions on the same session are serialized.
func (c *Coordinator) Execute(ctx context.Context, s *Session, verb string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, err := c.instrumentFor(ctx, s)
	if err != nil {
		s.LastResult = "❌ " + err.Error()
		return s.LastResult
	}
	s.Instrument = inst

	var result *orders.Result
	switch verb {
	case verbOpen:
		side := models.SideBuy
		if s.Signal.Sentiment == models.SentimentBearish {
			side = models.SideSell
		}
		result = c.placer.PlaceEntry(ctx, inst, side, s.Quantity)
		if result.Placed {
			c.recordEntry(ctx, s, inst)
		}
	case verbClose, verbTrail:
		pos := c.positionFor(ctx, inst.ConID)
		if pos == nil {
			s.LastResult = fmt.Sprintf("❌ No open position for %s", inst.Description())
			return s.LastResult
		}
		side := models.SideSell
		if !pos.IsLong() {
			side = models.SideBuy
		}
		qty := s.Quantity
		full := float64(qty) >= abs(pos.Quantity)
		if verb == verbTrail {
			result = c.placer.PlaceTrailingExit(ctx, inst, side, qty, pos.AvgCost)
		} else {
			result = c.placer.PlaceExit(ctx, inst, side, qty)
		}
		if result.Placed && full {
			c.alerts.Close(s.Alerter, s.Ticker)
			c.contracts.Remove(s.Alerter)
			c.logger.Printf("Full close for %s/%s, alert closed and contract removed", s.Alerter, s.Ticker)
		}
	default:
		s.LastResult = fmt.Sprintf("❌ Unknown action %q", verb)
		return s.LastResult
	}

	s.LastResult = result.Summary()
	return s.LastResult
}

// recordEntry persists the traded contract and stamps the alert with the
// resolved instrument ids after a successful entry.
func (c *Coordinator) recordEntry(ctx context.Context, s *Session, inst *models.Instrument) {
	c.contracts.Store(s.Alerter, models.StoredContract{
		Alerter:  s.Alerter,
		Symbol:   inst.Symbol,
		ConID:    inst.ConID,
		Strike:   inst.Strike,
		Right:    inst.Right,
		Expiry:   inst.Expiry,
		Exchange: inst.Exchange,
		Currency: inst.Currency,
	})

	underlyingConID := int64(0)
	if underlying := c.resolver.ResolveUnderlying(ctx, s.Ticker); underlying.Kind == broker.SearchFound {
		underlyingConID = underlying.Instrument.ConID
	}
	c.alerts.SetInstrument(s.Alerter, s.Ticker, inst.ConID, underlyingConID)
}

// instrumentFor resolves the session's tradable contract, falling back
// through the stored contract, the alert record, live positions, and finally
// a fresh resolver call.
func (c *Coordinator) instrumentFor(ctx context.Context, s *Session) (*models.Instrument, error) {
	if s.Instrument != nil && s.Instrument.ConID > 0 {
		return s.Instrument, nil
	}

	if contract, ok := c.contracts.Get(s.Alerter); ok && contract.ConID > 0 {
		return &models.Instrument{
			Symbol:   contract.Symbol,
			ConID:    contract.ConID,
			Strike:   contract.Strike,
			Right:    contract.Right,
			Expiry:   contract.Expiry,
			Exchange: contract.Exchange,
			Currency: contract.Currency,
		}, nil
	}

	if alert, ok := c.alerts.Get(s.Alerter, s.Ticker); ok && alert.OptionConID > 0 {
		return &models.Instrument{Symbol: s.Ticker, ConID: alert.OptionConID}, nil
	}

	if positions, err := c.broker.GetPositions(ctx); err == nil {
		for i := range positions {
			if positions[i].Ticker == s.Ticker && positions[i].ConID > 0 {
				p := &positions[i]
				return &models.Instrument{
					Symbol:   p.Ticker,
					ConID:    p.ConID,
					Strike:   p.Strike,
					Right:    models.OptionRight(p.Right),
					Expiry:   p.Expiry,
					Currency: p.Currency,
				}, nil
			}
		}
	}

	result := c.resolver.Resolve(ctx, resolver.Request{
		Symbol:    s.Ticker,
		Strike:    s.Signal.Strike,
		Right:     s.Signal.Right,
		Expiry:    s.Signal.Expiry,
		Sentiment: s.Signal.Sentiment,
	})
	if result.Kind == broker.SearchFound {
		return result.Instrument, nil
	}
	return nil, fmt.Errorf("could not resolve a contract for %s", s.Ticker)
}

func (c *Coordinator) positionFor(ctx context.Context, conID int64) *broker.Position {
	positions, err := c.broker.GetPositions(ctx)
	if err != nil {
		c.logger.Printf("Failed to fetch positions: %v", err)
		return nil
	}
	for i := range positions {
		if positions[i].ConID == conID && positions[i].Quantity != 0 {
			return &positions[i]
		}
	}
	return nil
}

func (c *Coordinator) rerender(s *Session) {
	s.mu.Lock()
	text := s.renderText()
	markup := s.keyboard()
	chatID, messageID := s.ChatID, s.MessageID
	s.mu.Unlock()

	if chatID == 0 || messageID == 0 {
		return
	}
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	if _, err := c.bot.Send(edit); err != nil {
		c.logger.Printf("Failed to re-render session %s: %v", s.ID, err)
	}
}

// Session returns the live session for id, if any.
func (c *Coordinator) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
