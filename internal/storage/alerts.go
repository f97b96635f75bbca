package storage

import (
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tknox12/alertbridge/internal/models"
)

// AlertStore is the durable per-(alerter, ticker) record of tracked alerts.
//
// All methods are safe for concurrent use; a single RWMutex serializes access
// from the reconciliation loop and the interactive coordinator. Persistence
// failures are logged and in-memory state stays authoritative until the next
// successful write.
type AlertStore struct {
	mu     sync.RWMutex
	path   string
	logger *log.Logger

	// alerter -> TICKER -> record
	alerts map[string]map[string]*models.Alert
}

// UpsertResult reports what an Upsert call did.
type UpsertResult string

const (
	// UpsertCreated means a new ACTIVE record was created (or a CLOSED one replaced).
	UpsertCreated UpsertResult = "created"
	// UpsertUpdated means an existing ACTIVE record was refreshed in place.
	UpsertUpdated UpsertResult = "updated"
)

// AlertSummary is the per-alerter view served by the admin surface.
type AlertSummary struct {
	Alerter string         `json:"alerter"`
	Alerts  []models.Alert `json:"alerts"`
}

// NewAlertStore opens (or creates) the alert file at path.
func NewAlertStore(path string, logger *log.Logger) (*AlertStore, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &AlertStore{
		path:   path,
		logger: logger,
		alerts: make(map[string]map[string]*models.Alert),
	}
	if err := readFileJSON(path, &s.alerts); err != nil {
		return nil, err
	}
	if s.alerts == nil {
		s.alerts = make(map[string]map[string]*models.Alert)
	}
	return s, nil
}

func tickerKey(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// persistLocked writes the current state. Callers must hold mu. A failed
// write is logged, not returned: memory is authoritative until the next save.
func (s *AlertStore) persistLocked() {
	if err := writeFileAtomic(s.path, s.alerts); err != nil {
		s.logger.Printf("Failed to persist alerts: %v", err)
	}
}

// Upsert records a signal for (alerter, ticker). A new ACTIVE record is
// created when none exists or the previous one was closed; otherwise the
// existing ACTIVE record's signal data and timestamp are refreshed in place.
func (s *AlertStore) Upsert(alerter, ticker string, signal models.SignalData) UpsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tickerKey(ticker)
	byTicker, ok := s.alerts[alerter]
	if !ok {
		byTicker = make(map[string]*models.Alert)
		s.alerts[alerter] = byTicker
	}

	existing, ok := byTicker[key]
	if ok && existing.IsActive() {
		existing.Signal = signal
		existing.CreatedAt = time.Now()
		if signal.Sentiment != "" {
			existing.Sentiment = signal.Sentiment
		}
		s.persistLocked()
		return UpsertUpdated
	}

	byTicker[key] = &models.Alert{
		Alerter:   alerter,
		Ticker:    key,
		Status:    models.AlertStatusActive,
		Open:      false,
		CreatedAt: time.Now(),
		Signal:    signal,
		Sentiment: signal.Sentiment,
	}
	s.persistLocked()
	return UpsertCreated
}

// Get returns a copy of the alert for (alerter, ticker).
func (s *AlertStore) Get(alerter, ticker string) (models.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[alerter][tickerKey(ticker)]
	if !ok {
		return models.Alert{}, false
	}
	return *a, true
}

// SetInstrument records the resolved contract identity on an alert.
func (s *AlertStore) SetInstrument(alerter, ticker string, optionConID, underlyingConID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alerter][tickerKey(ticker)]
	if !ok {
		return false
	}
	a.OptionConID = optionConID
	a.UnderlyingConID = underlyingConID
	s.persistLocked()
	return true
}

// MarkOpen flips the alert to open after a matched fill. Idempotent: marking
// an already-open alert is a no-op returning true.
func (s *AlertStore) MarkOpen(alerter, ticker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alerter][tickerKey(ticker)]
	if !ok {
		return false
	}
	if a.Open {
		return true
	}
	a.Open = true
	a.Status = models.AlertStatusActive
	s.persistLocked()
	s.logger.Printf("Alert %s marked open", a)
	return true
}

// Close marks the alert closed and stamps the close time.
func (s *AlertStore) Close(alerter, ticker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alerter][tickerKey(ticker)]
	if !ok {
		return false
	}
	now := time.Now()
	a.Status = models.AlertStatusClosed
	a.Open = false
	a.ClosedAt = &now
	s.persistLocked()
	return true
}

// Remove deletes the alert and prunes the alerter's map when it empties.
func (s *AlertStore) Remove(alerter, ticker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTicker, ok := s.alerts[alerter]
	if !ok {
		return false
	}
	key := tickerKey(ticker)
	if _, ok := byTicker[key]; !ok {
		return false
	}
	delete(byTicker, key)
	if len(byTicker) == 0 {
		delete(s.alerts, alerter)
	}
	s.persistLocked()
	return true
}

// EvictStale removes non-open records older than maxAge. Open alerts are
// never evicted regardless of age. A record with an unparseable (zero)
// timestamp is left in place.
func (s *AlertStore) EvictStale(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for alerter, byTicker := range s.alerts {
		for key, a := range byTicker {
			if a.Open {
				continue
			}
			if a.CreatedAt.IsZero() {
				s.logger.Printf("Skipping eviction for %s/%s: no timestamp", alerter, key)
				continue
			}
			if a.CreatedAt.After(cutoff) {
				continue
			}
			delete(byTicker, key)
			removed++
		}
		if len(byTicker) == 0 {
			delete(s.alerts, alerter)
		}
	}
	if removed > 0 {
		s.persistLocked()
		s.logger.Printf("Evicted %d stale alerts", removed)
	}
	return removed
}

// ClearAll wipes every record. Destructive; admin use only.
func (s *AlertStore) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, byTicker := range s.alerts {
		count += len(byTicker)
	}
	s.alerts = make(map[string]map[string]*models.Alert)
	s.persistLocked()
	return count
}

// Alerters returns the known alerter names, sorted.
func (s *AlertStore) Alerters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.alerts))
	for name := range s.alerts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AlertsFor returns copies of all alerts for one alerter.
func (s *AlertStore) AlertsFor(alerter string) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byTicker := s.alerts[alerter]
	out := make([]models.Alert, 0, len(byTicker))
	for _, a := range byTicker {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Summaries returns per-alerter views for the admin surface.
func (s *AlertStore) Summaries() []AlertSummary {
	names := s.Alerters()
	out := make([]AlertSummary, 0, len(names))
	for _, name := range names {
		out = append(out, AlertSummary{Alerter: name, Alerts: s.AlertsFor(name)})
	}
	return out
}

// Count returns the total number of records.
func (s *AlertStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, byTicker := range s.alerts {
		count += len(byTicker)
	}
	return count
}
