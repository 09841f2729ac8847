// Package balancer picks which account should serve one request (spec
// §4.3): candidate enumeration over enabled providers/accounts, a
// preferred-account short-circuit, then one of three selection
// strategies, biased away from recently failing accounts by a failure
// window.
//
// Grounded on the teacher's internal/infrastructure/llm.Router (mutex-
// guarded provider list, per-provider stats map, skip-if-unavailable
// loop) and its CircuitBreaker (count+timestamp failure tracking,
// threshold/recovery-timeout shape) — generalized from "first healthy
// provider wins" to the balancer's three named strategies and per-account
// (not per-provider) failure tracking.
package balancer

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ngoclaw/llmgateway/internal/configstore"
	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/modelmap"
)

const (
	// FailThreshold is the consecutive-failure count at which an account
	// enters the failure window (spec §4.3).
	FailThreshold = 3
	// RecoveryTime is how long an account stays in the failure window
	// after its last recorded failure (spec §4.3).
	RecoveryTime = 60 * time.Second
)

// Store is the subset of configstore.Store the balancer reads.
type Store interface {
	GetProviders() []domain.Provider
	GetAccountsByProviderID(providerID string, includeCredentials bool) []domain.Account
}

var _ Store = (*configstore.Store)(nil)

type failureEntry struct {
	count        int
	lastFailTime time.Time
}

// Balancer selects an AccountSelection for one request. It is safe for
// concurrent use.
type Balancer struct {
	store Store

	mu             sync.Mutex
	mapper         *modelmap.Mapper
	roundRobinIdx  map[string]int // key: sorted-provider-ids joined, value: last index served
	failures       map[string]*failureEntry // key: account id
}

// New builds a Balancer reading providers/accounts from store and
// resolving models through mapper.
func New(store Store, mapper *modelmap.Mapper) *Balancer {
	return &Balancer{
		store:         store,
		mapper:        mapper,
		roundRobinIdx: make(map[string]int),
		failures:      make(map[string]*failureEntry),
	}
}

// SetMapper swaps the mapper the next candidates() call resolves models
// through — called after a configuration reload (spec §4.9's hot-reload)
// so a live ModelMappings edit takes effect without losing the
// round-robin index or failure-window state a brand-new Balancer would.
func (b *Balancer) SetMapper(mapper *modelmap.Mapper) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mapper = mapper
}

func (b *Balancer) currentMapper() *modelmap.Mapper {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapper
}

// candidate pairs one selectable account with the provider that owns it
// and the model that provider will actually receive.
type candidate struct {
	account     domain.Account
	provider    domain.Provider
	actualModel string
}

// Select implements spec §4.3's full algorithm: candidate enumeration,
// preferred-account short-circuit, then strategy dispatch. Returns nil if
// no candidate is available.
func (b *Balancer) Select(model, strategy, preferredProviderID, preferredAccountID string) *domain.AccountSelection {
	candidates := b.candidates(model)
	if len(candidates) == 0 {
		return nil
	}

	if preferredAccountID != "" {
		for _, c := range candidates {
			if c.account.ID == preferredAccountID && !b.inFailureWindow(c.account.ID) {
				return selectionOf(c)
			}
		}
	}

	if preferredProviderID != "" {
		var scoped []candidate
		for _, c := range candidates {
			if c.provider.ID == preferredProviderID {
				scoped = append(scoped, c)
			}
		}
		if len(scoped) > 0 {
			candidates = scoped
		}
	}

	if strategy != "failover" {
		var healthy []candidate
		for _, c := range candidates {
			if !b.inFailureWindow(c.account.ID) {
				healthy = append(healthy, c)
			}
		}
		if len(healthy) == 0 {
			return nil
		}
		candidates = healthy
	}

	var chosen *candidate
	switch strategy {
	case "fill-first":
		chosen = b.fillFirst(candidates)
	case "failover":
		chosen = b.failover(candidates)
	default:
		chosen = b.roundRobin(candidates)
	}
	if chosen == nil {
		return nil
	}
	return selectionOf(*chosen)
}

func selectionOf(c candidate) *domain.AccountSelection {
	account := c.account
	provider := c.provider
	return &domain.AccountSelection{Account: &account, Provider: &provider, ActualModel: c.actualModel}
}

// candidates enumerates spec §4.3's candidate set: enabled providers that
// support model, paired with each of their selectable accounts and the
// model that provider will actually receive.
func (b *Balancer) candidates(model string) []candidate {
	mapper := b.currentMapper()
	var out []candidate
	for _, provider := range b.store.GetProviders() {
		if !provider.Enabled {
			continue
		}
		if !provider.SupportsModel(model) {
			continue
		}
		resolution := mapper.ResolveForProvider(provider, model)

		accounts := b.store.GetAccountsByProviderID(provider.ID, false)
		for _, acc := range accounts {
			if !acc.Selectable() {
				continue
			}
			out = append(out, candidate{account: acc, provider: provider, actualModel: resolution.ActualModel})
		}
	}
	return out
}

// roundRobin advances a monotone index keyed by the sorted set of
// candidate provider ids (spec §4.3).
func (b *Balancer) roundRobin(candidates []candidate) *candidate {
	key := roundRobinKey(candidates)

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.roundRobinIdx[key]
	idx = (idx + 1) % len(candidates)
	b.roundRobinIdx[key] = idx
	return &candidates[idx]
}

func roundRobinKey(candidates []candidate) string {
	ids := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c.provider.ID] {
			seen[c.provider.ID] = true
			ids = append(ids, c.provider.ID)
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// fillFirst selects the candidate with the smallest todayUsed, ties
// broken by smallest lastUsed (spec §4.3).
func (b *Balancer) fillFirst(candidates []candidate) *candidate {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		if c.account.TodayUsed < best.account.TodayUsed {
			best = c
			continue
		}
		if c.account.TodayUsed == best.account.TodayUsed && c.account.LastUsed.Before(best.account.LastUsed) {
			best = c
		}
	}
	return best
}

// failover filters to accounts outside the failure window and round-robins
// over that subset; if none remain, it picks the candidate with the
// fewest recorded failures, ties broken by oldest lastFailTime (spec
// §4.3).
func (b *Balancer) failover(candidates []candidate) *candidate {
	var healthy []candidate
	for _, c := range candidates {
		if !b.inFailureWindow(c.account.ID) {
			healthy = append(healthy, c)
		}
	}
	if len(healthy) > 0 {
		return b.roundRobin(healthy)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	best := &candidates[0]
	bestCount, bestTime := b.failureLocked(best.account.ID)
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		count, lastFail := b.failureLocked(c.account.ID)
		if count < bestCount || (count == bestCount && lastFail.Before(bestTime)) {
			best, bestCount, bestTime = c, count, lastFail
		}
	}
	return best
}

func (b *Balancer) failureLocked(accountID string) (int, time.Time) {
	entry, ok := b.failures[accountID]
	if !ok {
		return 0, time.Time{}
	}
	return entry.count, entry.lastFailTime
}

// inFailureWindow reports whether accountID currently satisfies spec
// §4.3's failure-window predicate, lazily dropping an expired entry.
func (b *Balancer) inFailureWindow(accountID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.failures[accountID]
	if !ok {
		return false
	}
	if entry.count < FailThreshold {
		return false
	}
	if time.Since(entry.lastFailTime) > RecoveryTime {
		delete(b.failures, accountID)
		return false
	}
	return true
}

// MarkAccountFailed records one failure against accountID (spec §4.3).
// The forwarder calls this for any status >= 400 except 429. It reports
// whether the account has now reached FailThreshold and so is demoted
// into the failure window — the forwarder uses this to decide whether the
// failure policy demotes the account's status (spec.md:236/39).
func (b *Balancer) MarkAccountFailed(accountID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.failures[accountID]
	if !ok {
		entry = &failureEntry{}
		b.failures[accountID] = entry
	}
	entry.count++
	entry.lastFailTime = time.Now()
	return entry.count >= FailThreshold
}

// ClearAccountFailure drops accountID's failure-window entry (spec
// §4.3). The forwarder calls this after every successful request.
func (b *Balancer) ClearAccountFailure(accountID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, accountID)
}
