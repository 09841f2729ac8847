// Package domain holds the core entities shared by the balancer, forwarder,
// adapters, and HTTP surface: providers, accounts, model mappings, and the
// small value types that flow between them.
package domain

import "strings"

// AuthStyle identifies which credential shape and adapter a Provider uses.
type AuthStyle string

const (
	AuthToken        AuthStyle = "token"
	AuthRefreshToken AuthStyle = "refresh_token"
	AuthJWT          AuthStyle = "jwt"
	AuthCookieTicket AuthStyle = "cookie_ticket"
	AuthComposite    AuthStyle = "composite_user_token"
)

// Provider is a vendor configuration. Owned by the configuration
// collaborator; mutated only through configuration updates.
type Provider struct {
	ID              string            `yaml:"id" json:"id"`
	Name            string            `yaml:"name" json:"name"`
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	SupportedModels []string          `yaml:"supported_models" json:"supported_models"`
	ModelMappings   map[string]ModelMapping `yaml:"model_mappings" json:"model_mappings,omitempty"`
	Auth            AuthStyle         `yaml:"auth" json:"auth"`
	BaseURL         string            `yaml:"base_url" json:"base_url"`
	Headers         map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// SupportsModel reports whether the provider advertises support for model,
// honoring prefix-wildcard patterns ending in "*" and treating an empty
// SupportedModels list as "supports everything" (spec §4.3).
func (p *Provider) SupportsModel(model string) bool {
	if len(p.SupportedModels) == 0 {
		return true
	}
	for _, pattern := range p.SupportedModels {
		if matchModelPattern(pattern, model) {
			return true
		}
	}
	return false
}

func matchModelPattern(pattern, model string) bool {
	pattern = strings.ToLower(pattern)
	model = strings.ToLower(model)
	if pattern == model {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
