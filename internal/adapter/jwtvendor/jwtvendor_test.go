package jwtvendor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

// validJWT decodes to header {"alg":"HS256"} and payload {"sub":"abc"}.
const validJWT = "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJhYmMifQ.sig"

func testProvider(baseURL string) domain.Provider {
	return domain.Provider{ID: "prov1", Name: "Test", Auth: domain.AuthJWT, BaseURL: baseURL}
}

func TestForwardChatCompletion_SignsWithYYAlgorithm(t *testing.T) {
	var gotToken, gotYY, gotXSig, gotTimestamp, gotUnix string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("token")
		gotYY = r.Header.Get("yy")
		gotXSig = r.Header.Get("x-signature")
		gotTimestamp = r.Header.Get("x-timestamp")
		gotUnix = r.Header.Get("x-unix")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"vendor_native":"shape"}`))
	}))
	defer srv.Close()

	v, _ := New(testProvider(srv.URL))
	req := &wire.ChatCompletionRequest{Model: "m", Messages: []wire.Message{{Role: "user", Content: wire.StrPtr("hi")}}}
	result, err := v.ForwardChatCompletion(context.Background(), req, map[string]string{"token": validJWT}, "m")
	if err != nil {
		t.Fatalf("ForwardChatCompletion: %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false, err=%v", result.Err)
	}
	if gotToken != validJWT {
		t.Errorf("token header = %q", gotToken)
	}
	if gotYY == "" || gotXSig == "" || gotTimestamp == "" || gotUnix == "" {
		t.Error("expected yy/x-signature/x-timestamp/x-unix headers to be set")
	}
	if result.SkipTransform {
		t.Error("SkipTransform = true, want false")
	}
}

func TestForwardChatCompletion_RejectsMalformedToken(t *testing.T) {
	v, _ := New(testProvider("http://upstream.invalid"))
	req := &wire.ChatCompletionRequest{Model: "m", Messages: []wire.Message{{Role: "user", Content: wire.StrPtr("hi")}}}
	if _, err := v.ForwardChatCompletion(context.Background(), req, map[string]string{"token": "not-a-jwt"}, "m"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestValidateToken_RejectsMalformedToken(t *testing.T) {
	v, _ := New(testProvider("http://upstream.invalid"))
	result, err := v.ValidateToken(context.Background(), map[string]string{"token": "not-a-jwt"})
	if err == nil {
		t.Fatal("expected error for malformed token")
	}
	if result.Valid {
		t.Error("Valid = true, want false")
	}
}

func TestGetAccountInfo_UsesDecodedUserIDWhenSigning(t *testing.T) {
	var gotYY string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotYY = r.Header.Get("yy")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_id":"abc","email":"a@example.com"}`))
	}))
	defer srv.Close()

	v, _ := New(testProvider(srv.URL))
	info, err := v.GetAccountInfo(context.Background(), map[string]string{"token": validJWT})
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info.UserID != "abc" {
		t.Errorf("UserID = %q, want abc", info.UserID)
	}
	if gotYY == "" {
		t.Error("expected yy header on GetAccountInfo request")
	}
}

func TestRefreshToken_Unsupported(t *testing.T) {
	v, _ := New(testProvider("http://upstream.invalid"))
	cred, err := v.RefreshToken(context.Background(), map[string]string{"token": validJWT})
	if cred != nil || err != nil {
		t.Errorf("RefreshToken = (%v, %v), want (nil, nil)", cred, err)
	}
}
