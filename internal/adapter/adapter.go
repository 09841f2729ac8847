// Package adapter defines the per-vendor capability contract (spec §4.5)
// and the shared registry that lets the forwarder dispatch to the right
// adapter for a Provider's authentication style.
//
// Grounded on the teacher's internal/infrastructure/llm/provider.go
// Provider interface and RegisterFactory/CreateProvider registry, but
// narrowed to the four operations spec §4.5 names — no Generate/
// GenerateStream/SupportsModel, since those belong to the forwarder and
// the model mapper, not the adapter. Spec §9's redesign note: "model this
// as an explicit capability contract... no virtual dispatch beyond the
// capability contract" — there is exactly one Adapter implementation per
// vendor, selected once by auth style, no shared base class.
package adapter

import (
	"context"
	"fmt"

	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

// AccountInfo is the enrichment an adapter can read back about the
// account behind a credential bag (spec §4.5's getAccountInfo).
type AccountInfo struct {
	UserID   string
	Email    string
	Phone    string
	Name     string
	IsGuest  bool
	Nickname string
}

// ValidateResult is validateToken's result (spec §4.5).
type ValidateResult struct {
	Valid   bool
	TokenType string
	Account *AccountInfo
	Err     error
}

// Adapter is the capability contract every vendor implements. Credentials
// are passed as the opaque string map the Account owns (spec §3's
// "credentials map (keys depend on provider)").
type Adapter interface {
	// ValidateToken synchronously checks whether credentials authenticate
	// against the vendor. It must reject guest accounts (spec §4.5).
	ValidateToken(ctx context.Context, credentials map[string]string) (ValidateResult, error)

	// RefreshToken produces a fresh access credential from a refresh
	// credential, or nil if the vendor doesn't support refreshing. A failed
	// refresh returns an error; the forwarder then proceeds with the
	// existing credentials, so it does not fail the request (spec §7).
	RefreshToken(ctx context.Context, credentials map[string]string) (*domain.Credential, error)

	// ForwardChatCompletion issues the upstream call and returns a
	// ForwardResult tagged as either Buffered or a Stream, never both.
	ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error)

	// GetAccountInfo is optional enrichment used at account creation; a
	// vendor that can't introspect returns (nil, nil).
	GetAccountInfo(ctx context.Context, credentials map[string]string) (*AccountInfo, error)
}

// Factory builds an Adapter for a given Provider configuration (e.g. its
// BaseURL and Headers template).
type Factory func(provider domain.Provider) (Adapter, error)

var registry = map[domain.AuthStyle]Factory{}

// RegisterFactory registers the Factory for an AuthStyle. Called from
// each vendor subpackage's init(), mirroring the teacher's
// llm.RegisterFactory pattern.
func RegisterFactory(style domain.AuthStyle, factory Factory) {
	registry[style] = factory
}

// New builds the Adapter for provider.Auth, or an error if no factory was
// registered for that style (a configuration error — every supported
// AuthStyle must have a corresponding vendor subpackage imported for
// side-effect by cmd/gateway).
func New(provider domain.Provider) (Adapter, error) {
	factory, ok := registry[provider.Auth]
	if !ok {
		return nil, fmt.Errorf("adapter: no factory registered for auth style %q", provider.Auth)
	}
	return factory(provider)
}

// ErrGuestAccount is the stable error message spec §4.5 requires for every
// guest-account rejection path, regardless of which check tripped or which
// vendor adapter is rejecting.
const ErrGuestAccount = "account is a guest or unregistered session and cannot be used"
