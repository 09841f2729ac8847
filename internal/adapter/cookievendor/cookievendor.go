// Package cookievendor implements the session-cookie vendor adapter (spec
// §6's AuthCookieTicket credential shape: {"ticket": "..."}).
package cookievendor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ngoclaw/llmgateway/internal/adapter"
	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

func init() {
	adapter.RegisterFactory(domain.AuthCookieTicket, New)
}

type cookieVendor struct {
	provider domain.Provider
	client   *http.Client
}

func New(provider domain.Provider) (adapter.Adapter, error) {
	return &cookieVendor{provider: provider, client: adapter.NewHTTPClient()}, nil
}

func (v *cookieVendor) attachTicket(req *http.Request, ticket string) {
	req.Header.Set("Cookie", "ticket="+ticket)
}

func (v *cookieVendor) ValidateToken(ctx context.Context, credentials map[string]string) (adapter.ValidateResult, error) {
	ticket := credentials["ticket"]
	if ticket == "" {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("cookievendor: missing ticket credential")
	}
	info, err := v.GetAccountInfo(ctx, credentials)
	if err != nil {
		return adapter.ValidateResult{Valid: false, Err: err}, nil
	}
	if adapter.IsGuestAccount(info, true) {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("%s", adapter.ErrGuestAccount)
	}
	return adapter.ValidateResult{Valid: true, TokenType: "cookie", Account: info}, nil
}

// RefreshToken is unsupported: a session ticket has no separate refresh
// material (spec §6).
func (v *cookieVendor) RefreshToken(ctx context.Context, credentials map[string]string) (*domain.Credential, error) {
	return nil, nil
}

func (v *cookieVendor) ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error) {
	ticket := credentials["ticket"]
	body := *req
	body.Model = actualModel
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.provider.BaseURL+"/api/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	v.attachTicket(httpReq, ticket)

	return adapter.ExecuteForward(v.client, httpReq, req.Stream, false)
}

func (v *cookieVendor) GetAccountInfo(ctx context.Context, credentials map[string]string) (*adapter.AccountInfo, error) {
	ticket := credentials["ticket"]
	if ticket == "" {
		return nil, fmt.Errorf("cookievendor: missing ticket credential")
	}
	httpReq, err := http.NewRequest(http.MethodGet, v.provider.BaseURL+"/api/user/profile", nil)
	if err != nil {
		return nil, err
	}
	v.attachTicket(httpReq, ticket)
	return adapter.FetchAccountInfo(ctx, v.client, httpReq)
}
