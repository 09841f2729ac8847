// Package tokenvendor implements the plain bearer-token vendor adapter
// (spec §6's AuthToken credential shape: {"token": "..."}). Its upstream
// SSE is already OpenAI-shaped, so it forwards with skipTransform=true
// (spec §4.8's adapter table) rather than running the stream transformer.
package tokenvendor

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
	adapter.RegisterFactory(domain.AuthToken, New)
}

type tokenVendor struct {
	provider domain.Provider
	client   *http.Client
}

func New(provider domain.Provider) (adapter.Adapter, error) {
	return &tokenVendor{provider: provider, client: adapter.NewHTTPClient()}, nil
}

func (v *tokenVendor) ValidateToken(ctx context.Context, credentials map[string]string) (adapter.ValidateResult, error) {
	token := credentials["token"]
	if token == "" {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("tokenvendor: missing token credential")
	}

	info, err := v.GetAccountInfo(ctx, credentials)
	if err != nil {
		return adapter.ValidateResult{Valid: false, Err: err}, nil
	}
	if adapter.IsGuestAccount(info, false) {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("%s", adapter.ErrGuestAccount)
	}
	return adapter.ValidateResult{Valid: true, TokenType: "token", Account: info}, nil
}

// RefreshToken is unsupported for this vendor: its credential shape carries
// no refresh material (spec §6).
func (v *tokenVendor) RefreshToken(ctx context.Context, credentials map[string]string) (*domain.Credential, error) {
	return nil, nil
}

func (v *tokenVendor) ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error) {
	token := credentials["token"]
	if token == "" {
		return nil, fmt.Errorf("tokenvendor: missing token credential")
	}

	body := *req
	body.Model = actualModel
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.provider.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	return adapter.ExecuteForward(v.client, httpReq, req.Stream, true)
}

func (v *tokenVendor) GetAccountInfo(ctx context.Context, credentials map[string]string) (*adapter.AccountInfo, error) {
	token := credentials["token"]
	if token == "" {
		return nil, fmt.Errorf("tokenvendor: missing token credential")
	}
	httpReq, err := http.NewRequest(http.MethodGet, v.provider.BaseURL+"/v1/user/info", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	return adapter.FetchAccountInfo(ctx, v.client, httpReq)
}
