package storage

import (
	"io"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tknox12/alertbridge/internal/models"
)

// ContractStore persists the per-alerter singleton contract: the one
// instrument an alerter is currently tracking. Alerter names arrive in
// inconsistent shapes ("demo-alerts", "DEMO", "DemoAlerts"), so lookups fall
// back through progressively looser key normalizations.
type ContractStore struct {
	mu     sync.RWMutex
	path   string
	logger *log.Logger

	contracts map[string]*models.StoredContract
}

// ContractStats describes the store for the admin surface.
type ContractStats struct {
	Total    int      `json:"total_contracts"`
	Path     string   `json:"storage_file"`
	Alerters []string `json:"alerters"`
}

var suffixPattern = regexp.MustCompile(`(?i)[-_. ]?(alerts|alert|handler)$`)

var nonAlnumPattern = regexp.MustCompile(`[^A-Za-z0-9]+`)

// NewContractStore opens (or creates) the contract file at path.
func NewContractStore(path string, logger *log.Logger) (*ContractStore, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &ContractStore{
		path:      path,
		logger:    logger,
		contracts: make(map[string]*models.StoredContract),
	}
	if err := readFileJSON(path, &s.contracts); err != nil {
		return nil, err
	}
	if s.contracts == nil {
		s.contracts = make(map[string]*models.StoredContract)
	}
	return s, nil
}

func (s *ContractStore) persistLocked() {
	if err := writeFileAtomic(s.path, s.contracts); err != nil {
		s.logger.Printf("Failed to persist contracts: %v", err)
	}
}

// Store records the contract currently tracked by alerter.
func (s *ContractStore) Store(alerter string, contract models.StoredContract) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract.Alerter = alerter
	contract.StoredAt = time.Now()
	s.contracts[alerter] = &contract
	s.persistLocked()
	s.logger.Printf("Stored contract for %s: %s %s %.2f%s",
		alerter, contract.Symbol, contract.Expiry, contract.Strike, contract.Right)
}

// stripSuffix removes a trailing alerts/alert/handler token and its separator.
func stripSuffix(name string) string {
	return suffixPattern.ReplaceAllString(name, "")
}

// camelCase recomposes "robindahood-alerts" style names as "Robindahood".
func camelCase(name string) string {
	parts := nonAlnumPattern.Split(name, -1)
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(strings.ToLower(p[1:]))
	}
	return b.String()
}

func normalizeAlnum(name string) string {
	return strings.ToLower(nonAlnumPattern.ReplaceAllString(name, ""))
}

// lookupLocked resolves alerter to a stored key. Callers must hold mu.
// The fallback order is: exact, lower-case, suffix-stripped, CamelCase,
// then alphanumeric-normalized comparison against every stored key.
func (s *ContractStore) lookupLocked(alerter string) (string, bool) {
	name := strings.TrimSpace(alerter)

	tryKeys := []string{name, strings.ToLower(name)}
	base := stripSuffix(name)
	if base != "" {
		tryKeys = append(tryKeys, base)
	}
	if camel := camelCase(base); camel != "" {
		tryKeys = append(tryKeys, camel)
	}

	for _, k := range tryKeys {
		if _, ok := s.contracts[k]; ok {
			return k, true
		}
	}

	target := normalizeAlnum(base)
	if target == "" {
		target = normalizeAlnum(name)
	}
	if target != "" {
		for stored := range s.contracts {
			if normalizeAlnum(stored) == target || normalizeAlnum(stripSuffix(stored)) == target {
				return stored, true
			}
		}
	}
	return "", false
}

// Get returns a copy of the contract stored for alerter, tolerating the
// naming variants described on lookupLocked.
func (s *ContractStore) Get(alerter string) (models.StoredContract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.lookupLocked(alerter)
	if !ok {
		return models.StoredContract{}, false
	}
	if key != alerter {
		s.logger.Printf("Resolved contract alias %s -> %s", alerter, key)
	}
	return *s.contracts[key], true
}

// All returns a copy of every stored contract keyed by alerter.
func (s *ContractStore) All() map[string]models.StoredContract {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.StoredContract, len(s.contracts))
	for k, c := range s.contracts {
		out[k] = *c
	}
	return out
}

// Remove deletes the contract stored under the exact alerter key.
func (s *ContractStore) Remove(alerter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[alerter]; !ok {
		return false
	}
	delete(s.contracts, alerter)
	s.persistLocked()
	s.logger.Printf("Removed stored contract for %s", alerter)
	return true
}

// MigrateKey moves a contract from oldKey to newKey. It refuses to overwrite
// an existing newKey and returns false in that case.
func (s *ContractStore) MigrateKey(oldKey, newKey string) bool {
	if oldKey == "" || newKey == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[oldKey]
	if !ok {
		return false
	}
	if _, exists := s.contracts[newKey]; exists {
		s.logger.Printf("Not migrating contract: target key %s already exists", newKey)
		return false
	}

	now := time.Now()
	c.Alerter = newKey
	c.MigratedFrom = oldKey
	c.MigratedAt = &now
	s.contracts[newKey] = c
	delete(s.contracts, oldKey)
	s.persistLocked()
	s.logger.Printf("Migrated contract from %s to %s", oldKey, newKey)
	return true
}

// IsExpired reports whether the alerter's contract expired before today.
// A missing contract counts as expired; an unparseable expiry counts as valid.
func (s *ContractStore) IsExpired(alerter string) bool {
	c, ok := s.Get(alerter)
	if !ok {
		return true
	}
	expiry, ok := c.ExpiryDate()
	if !ok {
		return false
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	return expiry.Before(today)
}

// CleanupExpired removes every expired contract and returns the keys removed.
func (s *ContractStore) CleanupExpired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	var removed []string
	for key, c := range s.contracts {
		expiry, ok := c.ExpiryDate()
		if !ok {
			continue
		}
		if expiry.Before(today) {
			delete(s.contracts, key)
			removed = append(removed, key)
		}
	}
	if len(removed) > 0 {
		s.persistLocked()
		s.logger.Printf("Cleaned up %d expired contracts: %v", len(removed), removed)
	}
	return removed
}

// Stats returns storage statistics for the admin surface.
func (s *ContractStore) Stats() ContractStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerters := make([]string, 0, len(s.contracts))
	for k := range s.contracts {
		alerters = append(alerters, k)
	}
	sort.Strings(alerters)
	return ContractStats{
		Total:    len(s.contracts),
		Path:     s.path,
		Alerters: alerters,
	}
}
