// Package jwtvendor implements the bare-JWT vendor adapter (spec §6's
// AuthJWT credential shape: {"token": "eyJ..."}). This is the vendor spec
// §4.5 pairs with the yy/x-signature algorithm (adapter.YYSignature), whose
// formula itself takes a jwtToken parameter.
package jwtvendor

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
	adapter.RegisterFactory(domain.AuthJWT, New)
}

type jwtVendor struct {
	provider domain.Provider
	client   *http.Client
}

func New(provider domain.Provider) (adapter.Adapter, error) {
	return &jwtVendor{provider: provider, client: adapter.NewHTTPClient()}, nil
}

func (v *jwtVendor) sign(req *http.Request, token, userID string) {
	yy, xSignature, unix, timestamp := adapter.YYSignature(userID, token)
	req.Header.Set("token", token)
	req.Header.Set("yy", yy)
	req.Header.Set("x-signature", xSignature)
	req.Header.Set("x-timestamp", timestamp)
	req.Header.Set("x-unix", unix)
}

func (v *jwtVendor) userID(token string) string {
	payload, err := adapter.DecodeJWTPayload(token)
	if err != nil {
		return ""
	}
	return payload.EffectiveUserID()
}

func (v *jwtVendor) ValidateToken(ctx context.Context, credentials map[string]string) (adapter.ValidateResult, error) {
	token := credentials["token"]
	if !adapter.IsJWT(token) {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("jwtvendor: token credential is not a well-formed JWT")
	}
	info, err := v.GetAccountInfo(ctx, credentials)
	if err != nil {
		return adapter.ValidateResult{Valid: false, Err: err}, nil
	}
	if adapter.IsGuestAccount(info, false) {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("%s", adapter.ErrGuestAccount)
	}
	return adapter.ValidateResult{Valid: true, TokenType: "jwt", Account: info}, nil
}

// RefreshToken is unsupported: a bare JWT carries its own expiry claim but
// no separate refresh credential (spec §6).
func (v *jwtVendor) RefreshToken(ctx context.Context, credentials map[string]string) (*domain.Credential, error) {
	return nil, nil
}

func (v *jwtVendor) ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error) {
	token := credentials["token"]
	if !adapter.IsJWT(token) {
		return nil, fmt.Errorf("jwtvendor: token credential is not a well-formed JWT")
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
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	v.sign(httpReq, token, v.userID(token))

	return adapter.ExecuteForward(v.client, httpReq, req.Stream, false)
}

func (v *jwtVendor) GetAccountInfo(ctx context.Context, credentials map[string]string) (*adapter.AccountInfo, error) {
	token := credentials["token"]
	if !adapter.IsJWT(token) {
		return nil, fmt.Errorf("jwtvendor: token credential is not a well-formed JWT")
	}
	httpReq, err := http.NewRequest(http.MethodGet, v.provider.BaseURL+"/v1/api/user/info", nil)
	if err != nil {
		return nil, err
	}
	v.sign(httpReq, token, v.userID(token))
	return adapter.FetchAccountInfo(ctx, v.client, httpReq)
}
