package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/llmgateway/internal/adapter"
	"github.com/ngoclaw/llmgateway/internal/balancer"
	"github.com/ngoclaw/llmgateway/internal/config"
	"github.com/ngoclaw/llmgateway/internal/configstore"
	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/forwarder"
	"github.com/ngoclaw/llmgateway/internal/modelmap"
	"github.com/ngoclaw/llmgateway/internal/status"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

const testAuthStyle domain.AuthStyle = "test-httpapi-vendor"

// stubAdapter is a minimal in-memory Adapter double: ForwardChatCompletion
// returns whatever the test configured, with no real network I/O.
type stubAdapter struct {
	result *domain.ForwardResult
	err    error
}

func (s *stubAdapter) ValidateToken(ctx context.Context, credentials map[string]string) (adapter.ValidateResult, error) {
	return adapter.ValidateResult{}, nil
}
func (s *stubAdapter) RefreshToken(ctx context.Context, credentials map[string]string) (*domain.Credential, error) {
	return nil, nil
}
func (s *stubAdapter) ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error) {
	return s.result, s.err
}
func (s *stubAdapter) GetAccountInfo(ctx context.Context, credentials map[string]string) (*adapter.AccountInfo, error) {
	return nil, nil
}

var registeredStub adapter.Adapter

func init() {
	gin.SetMode(gin.TestMode)
	adapter.RegisterFactory(testAuthStyle, func(provider domain.Provider) (adapter.Adapter, error) {
		return registeredStub, nil
	})
}

const testYAML = `
load_balance_strategy: round-robin
api_keys: ["secret-key"]
enable_api_key: true
providers:
  - id: prov1
    name: Test Vendor
    enabled: true
    supported_models: ["m"]
    auth: test-httpapi-vendor
    base_url: "http://upstream.invalid"
    accounts:
      - id: acc1
        provider_id: prov1
        name: Account One
        enabled: true
        status: active
        credentials:
          token: "abc123"
`

func newTestServer(t *testing.T) (*Server, *configstore.Store) {
	t.Helper()
	logger := zap.NewNop()
	store := configstore.New(logger)
	if err := store.Reload([]byte(testYAML)); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	mapper := modelmap.New(store.GetConfig().ModelMappings)
	bal := balancer.New(store, mapper)
	statusc := status.New()
	fwd := forwarder.New(store, bal, statusc, 5*time.Second)

	return New(store, bal, fwd, statusc, logger), store
}

func doRequest(engine *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletions_MissingAPIKeyReturns401(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.Routes(config.Config{})

	rec := doRequest(engine, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","messages":[{"role":"user","content":"hi"}]}`, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
	var body wire.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "invalid_api_key" {
		t.Errorf("error code = %q, want invalid_api_key", body.Error.Code)
	}
}

func TestChatCompletions_MissingMessagesReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.Routes(config.Config{})

	rec := doRequest(engine, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","messages":[]}`, map[string]string{"Authorization": "Bearer secret-key"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestChatCompletions_NonStreamSuccess(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.Routes(config.Config{})

	body, _ := json.Marshal(wire.ChatCompletionResponse{
		ID: "upstream-id", Object: "chat.completion", Created: 1, Model: "actual-m",
		Choices: []wire.Choice{{Index: 0, Message: wire.Message{Role: "assistant", Content: wire.StrPtr("hello")}, FinishReason: "stop"}},
		Usage:   wire.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	})
	registeredStub = &stubAdapter{result: &domain.ForwardResult{Success: true, Status: 200, Body: body, SkipTransform: true}}

	rec := doRequest(engine, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"Authorization": "Bearer secret-key"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp wire.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Choices[0].Message.ContentOrEmpty() != "hello" {
		t.Errorf("content = %q, want hello", resp.Choices[0].Message.ContentOrEmpty())
	}
}

func TestChatCompletions_NoCapacityReturns503(t *testing.T) {
	logger := zap.NewNop()
	store := configstore.New(logger)
	// No providers at all seeded -> balancer has no candidates.
	if err := store.Reload([]byte("load_balance_strategy: round-robin\n")); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	mapper := modelmap.New(store.GetConfig().ModelMappings)
	bal := balancer.New(store, mapper)
	statusc := status.New()
	fwd := forwarder.New(store, bal, statusc, 5*time.Second)
	s := New(store, bal, fwd, statusc, logger)
	engine := s.Routes(config.Config{})

	rec := doRequest(engine, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","messages":[{"role":"user","content":"hi"}]}`, nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", rec.Code, rec.Body.String())
	}
	var body wire.ErrorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Code != "no_available_account" {
		t.Errorf("error code = %q, want no_available_account", body.Error.Code)
	}
}

func TestChatCompletions_UpstreamFailureReturnsAdapterStatus(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.Routes(config.Config{})

	registeredStub = &stubAdapter{result: &domain.ForwardResult{Success: false, Status: 502, Err: errString("bad gateway")}}

	rec := doRequest(engine, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"Authorization": "Bearer secret-key"})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body=%s", rec.Code, rec.Body.String())
	}
}

// TestCompletions_S4LegacyPromptMapping reproduces spec's S4 scenario
// verbatim: POST /v1/completions with a string-array prompt is forwarded
// as if messages=[{user,"Hi"},{assistant,"Hello"}].
func TestCompletions_S4LegacyPromptMapping(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.Routes(config.Config{})

	var captured *wire.ChatCompletionRequest
	registeredStub = &capturingStub{stubAdapter: stubAdapter{
		result: &domain.ForwardResult{Success: true, Status: 200, SkipTransform: true, Body: []byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)},
	}, captured: &captured}

	rec := doRequest(engine, http.MethodPost, "/v1/completions",
		`{"model":"m","prompt":["Hi","Hello"],"stream":false}`,
		map[string]string{"Authorization": "Bearer secret-key"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if captured == nil {
		t.Fatalf("adapter was never invoked")
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("messages = %+v, want 2 entries", captured.Messages)
	}
	if captured.Messages[0].Role != "user" || captured.Messages[0].ContentOrEmpty() != "Hi" {
		t.Errorf("messages[0] = %+v, want user/Hi", captured.Messages[0])
	}
	if captured.Messages[1].Role != "assistant" || captured.Messages[1].ContentOrEmpty() != "Hello" {
		t.Errorf("messages[1] = %+v, want assistant/Hello", captured.Messages[1])
	}
}

// capturingStub records the request ForwardChatCompletion was called
// with, so S4's rewrite can be asserted on what actually reached the
// adapter rather than just the HTTP status.
type capturingStub struct {
	stubAdapter
	captured **wire.ChatCompletionRequest
}

func (c *capturingStub) ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error) {
	*c.captured = req
	return c.stubAdapter.result, c.stubAdapter.err
}

func TestModels_ListsOnlyProvidersWithActiveAccounts(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.Routes(config.Config{})

	rec := doRequest(engine, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer secret-key"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp wire.ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "m" {
		t.Errorf("models = %+v, want [m]", resp.Data)
	}
}

func TestHealthz_Returns200(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.Routes(config.Config{})
	rec := doRequest(engine, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// errString is a trivial error for tests that don't need wrapping.
type errString string

func (e errString) Error() string { return string(e) }
