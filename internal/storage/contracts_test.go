package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tknox12/alertbridge/internal/models"
)

func newTestContractStore(t *testing.T) *ContractStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contracts.json")
	store, err := NewContractStore(path, nil)
	require.NoError(t, err)
	return store
}

func demoContract(symbol, expiry string) models.StoredContract {
	return models.StoredContract{
		Symbol: symbol,
		ConID:  711280073,
		Strike: 6400,
		Right:  models.RightCall,
		Expiry: expiry,
	}
}

func TestContractGet_FuzzyAliases(t *testing.T) {
	store := newTestContractStore(t)
	store.Store("demo-alerts", demoContract("SPX", "29991231"))

	for _, alias := range []string{"demo-alerts", "DEMO", "demo", "demoalerts", "Demo-Alerts"} {
		c, ok := store.Get(alias)
		require.True(t, ok, "alias %q should resolve", alias)
		assert.Equal(t, int64(711280073), c.ConID)
	}
}

func TestContractGet_CamelCaseAlias(t *testing.T) {
	store := newTestContractStore(t)
	store.Store("Robindahood", demoContract("AAPL", "29991231"))

	c, ok := store.Get("robindahood-alerts")
	require.True(t, ok)
	assert.Equal(t, "AAPL", c.Symbol)
}

func TestContractGet_Missing(t *testing.T) {
	store := newTestContractStore(t)
	_, ok := store.Get("nobody")
	assert.False(t, ok)
}

func TestMigrateKey(t *testing.T) {
	store := newTestContractStore(t)
	store.Store("old-name", demoContract("SPX", "29991231"))

	require.True(t, store.MigrateKey("old-name", "new-name"))

	_, ok := store.Get("old-name")
	assert.False(t, ok)

	c, ok := store.Get("new-name")
	require.True(t, ok)
	assert.Equal(t, "new-name", c.Alerter)
	assert.Equal(t, "old-name", c.MigratedFrom)
	require.NotNil(t, c.MigratedAt)
}

func TestMigrateKey_RefusesOverwrite(t *testing.T) {
	store := newTestContractStore(t)
	store.Store("a", demoContract("SPX", "29991231"))
	store.Store("b", demoContract("NDX", "29991231"))

	assert.False(t, store.MigrateKey("a", "b"))

	c, _ := store.Get("b")
	assert.Equal(t, "NDX", c.Symbol)
}

func TestMigrateKey_MissingSource(t *testing.T) {
	store := newTestContractStore(t)
	assert.False(t, store.MigrateKey("missing", "target"))
	assert.False(t, store.MigrateKey("", "target"))
	assert.False(t, store.MigrateKey("missing", ""))
}

func TestIsExpired(t *testing.T) {
	store := newTestContractStore(t)

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("20060102")
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("20060102")

	store.Store("stale", demoContract("SPX", yesterday))
	store.Store("fresh", demoContract("SPX", tomorrow))
	store.Store("undated", demoContract("SPX", ""))

	assert.True(t, store.IsExpired("stale"))
	assert.False(t, store.IsExpired("fresh"))
	assert.False(t, store.IsExpired("undated"), "unparseable expiry counts as valid")
	assert.True(t, store.IsExpired("missing"), "missing contract counts as expired")
}

func TestCleanupExpired(t *testing.T) {
	store := newTestContractStore(t)

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("20060102")
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("20060102")

	store.Store("stale", demoContract("SPX", yesterday))
	store.Store("fresh", demoContract("SPX", tomorrow))

	removed := store.CleanupExpired()
	assert.Equal(t, []string{"stale"}, removed)

	_, ok := store.Get("fresh")
	assert.True(t, ok)
}

func TestContractStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	store, err := NewContractStore(path, nil)
	require.NoError(t, err)
	store.Store("demo-alerts", demoContract("SPX", "29991231"))

	reopened, err := NewContractStore(path, nil)
	require.NoError(t, err)

	c, ok := reopened.Get("demo")
	require.True(t, ok)
	assert.Equal(t, "SPX", c.Symbol)
}

func TestContractStats(t *testing.T) {
	store := newTestContractStore(t)
	store.Store("b", demoContract("NDX", "29991231"))
	store.Store("a", demoContract("SPX", "29991231"))

	stats := store.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, []string{"a", "b"}, stats.Alerters)
	assert.NotEmpty(t, stats.Path)
}
