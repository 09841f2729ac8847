// Package configstore is the "configuration collaborator" spec §6 places
// outside the core: an in-memory, mutex-guarded store of providers,
// accounts, and model mappings that implements the read interface the
// core consumes (GetProviders, GetAccountsByProviderID, GetConfig,
// UpdateAccount, AddLog) exactly. The core never parses YAML directly —
// it only ever goes through this interface, so a config hot-reload (spec
// §4.9) can swap the whole backing snapshot without the core noticing
// anything beyond "the data changed between requests" (spec §5).
//
// Grounded on the teacher's internal/infrastructure/config (viper + YAML
// load) generalized from "one big Config struct" to a seeded, mutable,
// concurrently-read registry — the closest teacher analogue to an account
// pool is its config file itself, not a package, so the mutex discipline
// is instead grounded on internal/domain/service/config_watcher.go's
// RWMutex-guarded swap pattern.
package configstore

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ngoclaw/llmgateway/internal/domain"
)

// Config is the read-only configuration snapshot spec §6's
// getConfig() returns.
type Config struct {
	LoadBalanceStrategy string
	// ModelMappings preserves the YAML document's insertion order — the
	// model mapper's wildcard scan (spec §4.2) is order-sensitive
	// ("first match wins in insertion order"), so this can't be a map.
	ModelMappings []domain.ModelMapping
	APIKeys       []string
	EnableAPIKey  bool
}

// AccountPatch is the set of fields UpdateAccount may change. Pointer
// fields left nil are not modified — this is the "patch", not a full
// replacement.
type AccountPatch struct {
	Status       *domain.AccountStatus
	ErrorMessage *string
	RequestCount *int64
	TodayUsed    *int64
	LastUsed     *time.Time
	// Credentials, when non-nil, replaces the account's stored credential
	// bag wholesale — the forwarder sets this after a successful
	// RefreshToken so the next request doesn't refresh from a now-stale
	// refresh token.
	Credentials map[string]string
}

// LogEntry is one fire-and-forget entry recorded via AddLog.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	At      time.Time
}

type providerRecord struct {
	provider domain.Provider
	accounts map[string]*domain.Account
}

// Store is the in-memory configuration collaborator. All reads return
// copies (domain.Account.Clone / value-copied Provider) so callers can
// hold a snapshot across a whole request without the store's internal
// mutation racing them (spec §5's "core must tolerate the snapshot
// changing between requests, never within one").
type Store struct {
	logger *zap.Logger

	mu        sync.RWMutex
	providers map[string]*providerRecord
	cfg       Config

	logMu sync.Mutex
	logs  []LogEntry
}

// New builds an empty Store. Call Reload (or LoadFile) to seed it.
func New(logger *zap.Logger) *Store {
	return &Store{
		logger:    logger.With(zap.String("component", "configstore")),
		providers: make(map[string]*providerRecord),
	}
}

// document is the YAML shape a config file backing the store takes.
type document struct {
	LoadBalanceStrategy string                  `yaml:"load_balance_strategy"`
	APIKeys             []string                `yaml:"api_keys"`
	EnableAPIKey        bool                    `yaml:"enable_api_key"`
	ModelMappings       []domain.ModelMapping   `yaml:"model_mappings"`
	Providers           []providerDocument      `yaml:"providers"`
}

type providerDocument struct {
	domain.Provider `yaml:",inline"`
	Accounts        []domain.Account `yaml:"accounts"`
}

// LoadFile reads path and calls Reload with its contents. Used both at
// startup and as the config.ReloadFunc a fsnotify watcher drives.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("configstore: read %s: %w", path, err)
	}
	return s.Reload(data)
}

// Reload parses yamlData and atomically replaces the store's entire
// snapshot. A parse failure leaves the existing snapshot untouched —
// a bad edit to the accounts file must never blank out a running gateway.
func (s *Store) Reload(yamlData []byte) error {
	var doc document
	if err := yaml.Unmarshal(yamlData, &doc); err != nil {
		return fmt.Errorf("configstore: parse: %w", err)
	}

	providers := make(map[string]*providerRecord, len(doc.Providers))
	for _, pd := range doc.Providers {
		rec := &providerRecord{provider: pd.Provider, accounts: make(map[string]*domain.Account, len(pd.Accounts))}
		for i := range pd.Accounts {
			acc := pd.Accounts[i]
			acc.ProviderID = pd.Provider.ID
			rec.accounts[acc.ID] = &acc
		}
		providers[pd.Provider.ID] = rec
	}

	strategy := doc.LoadBalanceStrategy
	if strategy == "" {
		strategy = "round-robin"
	}

	s.mu.Lock()
	s.providers = providers
	s.cfg = Config{
		LoadBalanceStrategy: strategy,
		ModelMappings:       doc.ModelMappings,
		APIKeys:             doc.APIKeys,
		EnableAPIKey:        doc.EnableAPIKey,
	}
	s.mu.Unlock()

	s.logger.Info("configstore reloaded",
		zap.Int("providers", len(providers)),
		zap.Int("model_mappings", len(doc.ModelMappings)),
	)
	return nil
}

// GetProviders returns every configured provider (spec §6).
func (s *Store) GetProviders() []domain.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Provider, 0, len(s.providers))
	for _, rec := range s.providers {
		out = append(out, rec.provider)
	}
	return out
}

// GetProvider returns one provider by id, or (zero, false) if unknown.
func (s *Store) GetProvider(id string) (domain.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.providers[id]
	if !ok {
		return domain.Provider{}, false
	}
	return rec.provider, true
}

// GetAccountsByProviderID returns providerID's accounts (spec §6). When
// includeCredentials is false, each returned Account has a nil
// Credentials map — the balancer and model mapper never need credentials,
// only the forwarder does, right before it calls the adapter.
func (s *Store) GetAccountsByProviderID(providerID string, includeCredentials bool) []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.providers[providerID]
	if !ok {
		return nil
	}
	out := make([]domain.Account, 0, len(rec.accounts))
	for _, acc := range rec.accounts {
		cp := acc.Clone()
		if !includeCredentials {
			cp.Credentials = nil
		}
		out = append(out, *cp)
	}
	return out
}

// GetConfig returns the current strategy/mappings/API-key snapshot (spec
// §6).
func (s *Store) GetConfig() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateAccount applies patch to accountID's stored record (spec §6). Safe
// for concurrent callers — the forwarder calls this from every request's
// goroutine to update counters.
func (s *Store) UpdateAccount(providerID, accountID string, patch AccountPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.providers[providerID]
	if !ok {
		return fmt.Errorf("configstore: unknown provider %q", providerID)
	}
	acc, ok := rec.accounts[accountID]
	if !ok {
		return fmt.Errorf("configstore: unknown account %q on provider %q", accountID, providerID)
	}

	if patch.Status != nil {
		acc.Status = *patch.Status
	}
	if patch.ErrorMessage != nil {
		acc.ErrorMessage = *patch.ErrorMessage
	}
	if patch.RequestCount != nil {
		acc.RequestCount = *patch.RequestCount
	}
	if patch.TodayUsed != nil {
		acc.TodayUsed = *patch.TodayUsed
	}
	if patch.LastUsed != nil {
		acc.LastUsed = *patch.LastUsed
	}
	if patch.Credentials != nil {
		acc.Credentials = patch.Credentials
	}
	return nil
}

// IncrementAccountUsage is the common-case UpdateAccount call the
// forwarder makes after every completed request: bump both counters and
// stamp LastUsed in one lock acquisition instead of three.
func (s *Store) IncrementAccountUsage(providerID, accountID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.providers[providerID]
	if !ok {
		return fmt.Errorf("configstore: unknown provider %q", providerID)
	}
	acc, ok := rec.accounts[accountID]
	if !ok {
		return fmt.Errorf("configstore: unknown account %q on provider %q", accountID, providerID)
	}
	acc.RequestCount++
	acc.TodayUsed++
	acc.LastUsed = now
	return nil
}

// AddLog records a fire-and-forget log entry (spec §6). Callers should not
// block on this — it is an in-memory ring, not a durable sink; actual
// operational logging goes through gatewaylog/zap.
func (s *Store) AddLog(level, message string, fields map[string]interface{}) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.logs = append(s.logs, LogEntry{Level: level, Message: message, Fields: fields, At: time.Now()})
	const maxLogs = 1000
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}
}

// RecentLogs returns up to n of the most recently added log entries,
// newest last. Used by the /v1/status debug route.
func (s *Store) RecentLogs(n int) []LogEntry {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if n <= 0 || n > len(s.logs) {
		n = len(s.logs)
	}
	out := make([]LogEntry, n)
	copy(out, s.logs[len(s.logs)-n:])
	return out
}
