// Package signedvendor implements the composite real-user-id+JWT vendor
// adapter (spec §6's AuthComposite credential shape: either
// {"token": "realUserID+jwt"} or {"real_user_id", "jwt"} split out
// already). This is the vendor spec §4.8 pairs with signing algorithm 1,
// the digit-mangling TimestampSignature.
package signedvendor

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
	adapter.RegisterFactory(domain.AuthComposite, New)
}

type signedVendor struct {
	provider domain.Provider
	client   *http.Client
	secret   string
}

// New builds the signed-vendor Adapter for provider. The signing secret is
// read from the provider's Headers template under "signing_secret" — it is
// shared configuration, not a per-account credential.
func New(provider domain.Provider) (adapter.Adapter, error) {
	return &signedVendor{
		provider: provider,
		client:   adapter.NewHTTPClient(),
		secret:   provider.Headers["signing_secret"],
	}, nil
}

// resolve implements spec §4.5's credential split: a combined "token" field
// wins when present, otherwise the already-split real_user_id/jwt fields.
func resolve(credentials map[string]string) (realUserID, jwt string, err error) {
	if combined := credentials["token"]; combined != "" {
		realUserID, jwt = adapter.ResolveCompositeUserID(combined)
		if jwt == "" {
			return "", "", fmt.Errorf("signedvendor: empty token credential")
		}
		return realUserID, jwt, nil
	}
	jwt = credentials["jwt"]
	realUserID = credentials["real_user_id"]
	if jwt == "" {
		return "", "", fmt.Errorf("signedvendor: missing token or jwt credential")
	}
	if realUserID == "" {
		if payload, decodeErr := adapter.DecodeJWTPayload(jwt); decodeErr == nil {
			realUserID = payload.EffectiveUserID()
		}
	}
	return realUserID, jwt, nil
}

func (v *signedVendor) sign(req *http.Request, realUserID, jwt string) {
	timestamp, nonce, sign := adapter.TimestampSignature(v.secret)
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("X-User-Id", realUserID)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Sign", sign)
}

func (v *signedVendor) ValidateToken(ctx context.Context, credentials map[string]string) (adapter.ValidateResult, error) {
	_, _, err := resolve(credentials)
	if err != nil {
		return adapter.ValidateResult{Valid: false}, err
	}
	info, err := v.GetAccountInfo(ctx, credentials)
	if err != nil {
		return adapter.ValidateResult{Valid: false, Err: err}, nil
	}
	if adapter.IsGuestAccount(info, false) {
		return adapter.ValidateResult{Valid: false}, fmt.Errorf("%s", adapter.ErrGuestAccount)
	}
	return adapter.ValidateResult{Valid: true, TokenType: "composite", Account: info}, nil
}

// RefreshToken is unsupported: spec §6 lists no refresh credential for this
// vendor's shape.
func (v *signedVendor) RefreshToken(ctx context.Context, credentials map[string]string) (*domain.Credential, error) {
	return nil, nil
}

func (v *signedVendor) ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error) {
	realUserID, jwt, err := resolve(credentials)
	if err != nil {
		return nil, err
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
	v.sign(httpReq, realUserID, jwt)

	return adapter.ExecuteForward(v.client, httpReq, req.Stream, false)
}

func (v *signedVendor) GetAccountInfo(ctx context.Context, credentials map[string]string) (*adapter.AccountInfo, error) {
	realUserID, jwt, err := resolve(credentials)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodGet, v.provider.BaseURL+"/v1/user/info", nil)
	if err != nil {
		return nil, err
	}
	v.sign(httpReq, realUserID, jwt)
	return adapter.FetchAccountInfo(ctx, v.client, httpReq)
}
