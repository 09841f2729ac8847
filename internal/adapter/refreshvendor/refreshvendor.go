// Package refreshvendor implements the OAuth-style refresh-token vendor
// adapter (spec §6's AuthRefreshToken credential shape:
// {"access_token", "refresh_token"}).
package refreshvendor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ngoclaw/llmgateway/internal/adapter"
	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/wire"
	"golang.org/x/sync/singleflight"
)

func init() {
	adapter.RegisterFactory(domain.AuthRefreshToken, New)
}

type refreshVendor struct {
	provider domain.Provider
	client   *http.Client
	group    singleflight.Group
}

// New builds the refresh-token vendor Adapter for provider. A
// singleflight.Group collapses concurrent RefreshToken calls for the same
// refresh token into one upstream round trip, matching the teacher's use
// of golang.org/x/sync/singleflight to dedupe concurrent upstream calls.
func New(provider domain.Provider) (adapter.Adapter, error) {
	return &refreshVendor{provider: provider, client: adapter.NewHTTPClient()}, nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (v *refreshVendor) ValidateToken(ctx context.Context, credentials map[string]string) (adapter.ValidateResult, error) {
	if credentials["access_token"] == "" && credentials["refresh_token"] == "" {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("refreshvendor: missing access_token and refresh_token")
	}
	info, err := v.GetAccountInfo(ctx, credentials)
	if err != nil {
		return adapter.ValidateResult{Valid: false, Err: err}, nil
	}
	if adapter.IsGuestAccount(info, false) {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("%s", adapter.ErrGuestAccount)
	}
	return adapter.ValidateResult{Valid: true, TokenType: "oauth", Account: info}, nil
}

func (v *refreshVendor) RefreshToken(ctx context.Context, credentials map[string]string) (*domain.Credential, error) {
	refreshToken := credentials["refresh_token"]
	if refreshToken == "" {
		return nil, fmt.Errorf("refreshvendor: missing refresh_token credential")
	}

	result, err, _ := v.group.Do(refreshToken, func() (interface{}, error) {
		payload, err := json.Marshal(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		})
		if err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.provider.BaseURL+"/oauth/token", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := v.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("refreshvendor: refresh failed with status %d", resp.StatusCode)
		}
		var parsed refreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, err
		}
		return &parsed, nil
	})
	if err != nil {
		return nil, err
	}

	parsed := result.(*refreshResponse)
	newRefresh := parsed.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	cred := &domain.Credential{
		Type:         domain.CredentialAccess,
		Value:        parsed.AccessToken,
		RefreshToken: newRefresh,
	}
	if parsed.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
		cred.ExpiresAt = &expiry
	}
	return cred, nil
}

func (v *refreshVendor) ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error) {
	accessToken := credentials["access_token"]
	if accessToken == "" {
		return nil, fmt.Errorf("refreshvendor: no access_token available; caller must refresh before forwarding")
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
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	return adapter.ExecuteForward(v.client, httpReq, req.Stream, false)
}

func (v *refreshVendor) GetAccountInfo(ctx context.Context, credentials map[string]string) (*adapter.AccountInfo, error) {
	accessToken := credentials["access_token"]
	if accessToken == "" {
		return nil, fmt.Errorf("refreshvendor: missing access_token credential")
	}
	httpReq, err := http.NewRequest(http.MethodGet, v.provider.BaseURL+"/oauth/userinfo", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	return adapter.FetchAccountInfo(ctx, v.client, httpReq)
}
