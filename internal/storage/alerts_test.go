package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tknox12/alertbridge/internal/models"
)

func newTestAlertStore(t *testing.T) *AlertStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.json")
	store, err := NewAlertStore(path, nil)
	require.NoError(t, err)
	return store
}

func buySignal(ticker string) models.SignalData {
	return models.SignalData{
		Ticker:     ticker,
		Action:     models.ActionBuy,
		Sentiment:  models.SentimentBullish,
		ReceivedAt: time.Now(),
	}
}

func TestUpsert_CreatesThenUpdates(t *testing.T) {
	store := newTestAlertStore(t)

	result := store.Upsert("demo", "AAPL", buySignal("AAPL"))
	assert.Equal(t, UpsertCreated, result)

	alert, ok := store.Get("demo", "AAPL")
	require.True(t, ok)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.False(t, alert.Open)

	updated := buySignal("AAPL")
	updated.RawText = "AAPL still looks strong"
	result = store.Upsert("demo", "AAPL", updated)
	assert.Equal(t, UpsertUpdated, result)

	alert, ok = store.Get("demo", "AAPL")
	require.True(t, ok)
	assert.Equal(t, "AAPL still looks strong", alert.Signal.RawText)
}

func TestUpsert_ReactivatesClosedAlert(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	require.True(t, store.Close("demo", "AAPL"))

	result := store.Upsert("demo", "AAPL", buySignal("AAPL"))
	assert.Equal(t, UpsertCreated, result)

	alert, ok := store.Get("demo", "AAPL")
	require.True(t, ok)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.False(t, alert.Open)
	assert.Nil(t, alert.ClosedAt)
}

func TestUpsert_TickerCaseInsensitive(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "aapl", buySignal("aapl"))
	_, ok := store.Get("demo", "AAPL")
	assert.True(t, ok)
}

func TestMarkOpen_Idempotent(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	assert.True(t, store.MarkOpen("demo", "AAPL"))
	assert.True(t, store.MarkOpen("demo", "AAPL"))

	alert, _ := store.Get("demo", "AAPL")
	assert.True(t, alert.Open)
}

func TestMarkOpen_UnknownAlert(t *testing.T) {
	store := newTestAlertStore(t)
	assert.False(t, store.MarkOpen("demo", "AAPL"))
}

func TestClose_SetsClosedAt(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	store.MarkOpen("demo", "AAPL")
	require.True(t, store.Close("demo", "AAPL"))

	alert, _ := store.Get("demo", "AAPL")
	assert.Equal(t, models.AlertStatusClosed, alert.Status)
	assert.False(t, alert.Open)
	require.NotNil(t, alert.ClosedAt)
}

func TestRemove_PrunesEmptyAlerter(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	require.True(t, store.Remove("demo", "AAPL"))
	assert.False(t, store.Remove("demo", "AAPL"))
	assert.Empty(t, store.Alerters())
}

func TestEvictStale_NeverRemovesOpenAlerts(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	store.Upsert("demo", "TSLA", buySignal("TSLA"))
	store.MarkOpen("demo", "AAPL")

	// Zero max age makes every non-open record stale immediately.
	removed := store.EvictStale(0)
	assert.Equal(t, 1, removed)

	_, ok := store.Get("demo", "AAPL")
	assert.True(t, ok, "open alert must survive eviction")
	_, ok = store.Get("demo", "TSLA")
	assert.False(t, ok)
}

func TestEvictStale_KeepsFreshRecords(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	removed := store.EvictStale(24 * time.Hour)
	assert.Zero(t, removed)
}

func TestEvictStale_SkipsRecordsWithoutTimestamp(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	store.mu.Lock()
	store.alerts["demo"]["AAPL"].CreatedAt = time.Time{}
	store.mu.Unlock()

	removed := store.EvictStale(0)
	assert.Zero(t, removed)
	_, ok := store.Get("demo", "AAPL")
	assert.True(t, ok)
}

func TestFillThenEvictScenario(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	alert, _ := store.Get("demo", "AAPL")
	require.False(t, alert.Open)

	// A matched fill marks the alert open; immediate zero-age eviction
	// must not remove it.
	require.True(t, store.MarkOpen("demo", "AAPL"))
	store.EvictStale(0)

	alert, ok := store.Get("demo", "AAPL")
	require.True(t, ok)
	assert.True(t, alert.Open)
}

func TestClearAll(t *testing.T) {
	store := newTestAlertStore(t)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	store.Upsert("other", "TSLA", buySignal("TSLA"))

	assert.Equal(t, 2, store.ClearAll())
	assert.Zero(t, store.Count())
}

func TestAlertStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	store, err := NewAlertStore(path, nil)
	require.NoError(t, err)

	store.Upsert("demo", "AAPL", buySignal("AAPL"))
	store.MarkOpen("demo", "AAPL")

	reopened, err := NewAlertStore(path, nil)
	require.NoError(t, err)

	alert, ok := reopened.Get("demo", "AAPL")
	require.True(t, ok)
	assert.True(t, alert.Open)
}

func TestAlertStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewAlertStore(path, nil)
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestSummaries(t *testing.T) {
	store := newTestAlertStore(t)

	for i := 0; i < 3; i++ {
		store.Upsert("demo", fmt.Sprintf("TICK%d", i), buySignal(fmt.Sprintf("TICK%d", i)))
	}
	store.Upsert("other", "AAPL", buySignal("AAPL"))

	summaries := store.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "demo", summaries[0].Alerter)
	assert.Len(t, summaries[0].Alerts, 3)
}
