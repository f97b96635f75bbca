package coordinator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tknox12/alertbridge/internal/models"
)

// Callback data tokens are "act|<session>|<verb>". Anything else on the
// update stream is ignored.
const callbackPrefix = "act"

// Action verbs carried in callback tokens.
const (
	verbOpen  = "open"
	verbClose = "close"
	verbTrail = "trail"
	verbQty   = "qty" // the quantity display button, a no-op
)

// quantitySteps are the adjustment deltas rendered on the first keyboard row.
var quantitySteps = []int{-10, -5, -1, 1, 5, 10}

// Session is the in-memory state behind one interactive message. Lost on
// restart; the durable record lives in the alert store.
type Session struct {
	ID           string
	Alerter      string
	Ticker       string
	Signal       models.SignalData
	Instrument   *models.Instrument
	Quantity     int
	HasPosition  bool
	MaxCloseable int
	EntryBasis   float64
	LastResult   string
	ChatID       int64
	MessageID    int
	CreatedAt    time.Time

	// mu serializes actions on this session: a second action while one is
	// in flight queues on the lock.
	mu sync.Mutex
}

// BuildSession creates the pending-action state for one signal. initialQty
// below 1 defaults to 1; when a position exists the quantity is bounded by
// maxCloseable.
func BuildSession(alerter string, signal models.SignalData, hasPosition bool,
	initialQty, maxCloseable int) *Session {
	s := &Session{
		Alerter:      alerter,
		Ticker:       strings.ToUpper(strings.TrimSpace(signal.Ticker)),
		Signal:       signal,
		Quantity:     initialQty,
		HasPosition:  hasPosition,
		MaxCloseable: maxCloseable,
		CreatedAt:    time.Now(),
	}
	s.AdjustQuantity(0)
	return s
}

// AdjustQuantity applies a step delta and clamps: floor 1 always, ceiling
// maxCloseable when closing an existing position.
func (s *Session) AdjustQuantity(delta int) {
	s.Quantity += delta
	if s.HasPosition && s.MaxCloseable >= 1 && s.Quantity > s.MaxCloseable {
		s.Quantity = s.MaxCloseable
	}
	if s.Quantity < 1 {
		s.Quantity = 1
	}
}

func (s *Session) token(verb string) string {
	return callbackPrefix + "|" + s.ID + "|" + verb
}

// parseToken splits "act|<session>|<verb>" callback data.
func parseToken(data string) (sessionID, verb string, ok bool) {
	parts := strings.SplitN(data, "|", 3)
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// keyboard renders the action surface: a quantity stepper row and an action
// row that depends on whether a position already exists.
func (s *Session) keyboard() tgbotapi.InlineKeyboardMarkup {
	stepper := make([]tgbotapi.InlineKeyboardButton, 0, len(quantitySteps)+1)
	for _, step := range quantitySteps {
		if step == 1 {
			// Current quantity sits between the decrement and increment buttons.
			stepper = append(stepper, tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("[ %d ]", s.Quantity), s.token(verbQty)))
		}
		stepper = append(stepper, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%+d", step), s.token(fmt.Sprintf("%+d", step))))
	}

	var actions []tgbotapi.InlineKeyboardButton
	if s.HasPosition {
		actions = tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📉 Close", s.token(verbClose)),
			tgbotapi.NewInlineKeyboardButtonData("🪜 Trail", s.token(verbTrail)),
		)
	} else {
		actions = tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📈 Open", s.token(verbOpen)),
		)
	}

	return tgbotapi.NewInlineKeyboardMarkup(stepper, actions)
}

// renderText builds the message body shown above the keyboard.
func (s *Session) renderText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 %s: %s (%s)\n", s.Alerter, s.Ticker, s.Signal.Sentiment)
	if s.Instrument != nil {
		fmt.Fprintf(&b, "Contract: %s\n", s.Instrument.Description())
	}
	if s.HasPosition {
		fmt.Fprintf(&b, "Position open, max closeable %d\n", s.MaxCloseable)
	}
	fmt.Fprintf(&b, "Quantity: %d", s.Quantity)
	if s.LastResult != "" {
		fmt.Fprintf(&b, "\n\n%s", s.LastResult)
	}
	return b.String()
}
