// Package modelmap resolves a client-requested model name to the actual
// upstream model name a provider should receive, plus any preferred
// provider/account the mapping pins (spec §4.2).
//
// Grounded directly in spec §4.2's three-step resolution order; the
// teacher has no model-mapping concept of its own (it dispatches by a
// single configured provider per request), so there is no teacher shape
// to imitate beyond the module's general "small pure resolver, no state"
// style already set by internal/sse and internal/toolcall.
package modelmap

import (
	"strings"

	"github.com/ngoclaw/llmgateway/internal/domain"
)

// Resolution is what the mapper hands back to the balancer: the model the
// provider will actually receive, plus any account-selection hints.
type Resolution struct {
	ActualModel         string
	PreferredProviderID string
	PreferredAccountID  string
}

// Mapper resolves against a single ordered list of global model mappings.
// Order matters: spec §4.2's wildcard step is "first match wins in
// insertion order."
type Mapper struct {
	mappings []domain.ModelMapping
}

// New builds a Mapper over mappings, preserving their order.
func New(mappings []domain.ModelMapping) *Mapper {
	return &Mapper{mappings: mappings}
}

// Resolve implements spec §4.2's three-step resolution against the global
// mapping list for one candidate provider. providerID may be empty, in
// which case only mappings with an empty PreferredProviderID can satisfy
// step 1 (a mapping pinned to a specific provider can't match "no
// provider in mind yet").
func (m *Mapper) Resolve(requestedModel, providerID string) Resolution {
	// Step 1: direct (non-wildcard) mapping whose preferredProviderId is
	// empty or matches providerID.
	for _, mapping := range m.mappings {
		if strings.Contains(mapping.RequestModel, "*") {
			continue
		}
		if mapping.RequestModel != requestedModel {
			continue
		}
		if mapping.PreferredProviderID != "" && mapping.PreferredProviderID != providerID {
			continue
		}
		return Resolution{
			ActualModel:         mapping.ActualModel,
			PreferredProviderID: mapping.PreferredProviderID,
			PreferredAccountID:  mapping.PreferredAccountID,
		}
	}

	// Step 2: wildcard scan, case-insensitive, first match wins.
	for _, mapping := range m.mappings {
		if !strings.Contains(mapping.RequestModel, "*") {
			continue
		}
		if matchWildcard(mapping.RequestModel, requestedModel) {
			return Resolution{
				ActualModel:         mapping.ActualModel,
				PreferredProviderID: mapping.PreferredProviderID,
				PreferredAccountID:  mapping.PreferredAccountID,
			}
		}
	}

	// Step 3: passthrough.
	return Resolution{ActualModel: requestedModel}
}

// ResolveForProvider implements the balancer's "per-provider mapping if
// present, else the global mapper" rule (spec §4.3): provider.ModelMappings
// is a direct-only override keyed by requestedModel, checked before
// falling back to m.Resolve.
func (m *Mapper) ResolveForProvider(provider domain.Provider, requestedModel string) Resolution {
	if provider.ModelMappings != nil {
		if mapping, ok := provider.ModelMappings[requestedModel]; ok {
			preferredProviderID := mapping.PreferredProviderID
			if preferredProviderID == "" {
				preferredProviderID = provider.ID
			}
			return Resolution{
				ActualModel:         mapping.ActualModel,
				PreferredProviderID: preferredProviderID,
				PreferredAccountID:  mapping.PreferredAccountID,
			}
		}
	}
	return m.Resolve(requestedModel, provider.ID)
}

// matchWildcard supports the four forms spec §4.2 names: "*", "prefix*",
// "*suffix", "prefix*suffix". Matching is case-insensitive.
func matchWildcard(pattern, model string) bool {
	pattern = strings.ToLower(pattern)
	model = strings.ToLower(model)

	if pattern == "*" {
		return true
	}

	idx := strings.Index(pattern, "*")
	if idx < 0 {
		return pattern == model
	}

	prefix := pattern[:idx]
	suffix := pattern[idx+1:]
	if len(model) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(model, prefix) && strings.HasSuffix(model, suffix)
}
