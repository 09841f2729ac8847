package forwarder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ngoclaw/llmgateway/internal/adapter"
	"github.com/ngoclaw/llmgateway/internal/configstore"
	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

type fakeAccountStore struct {
	incremented []string
	patched     map[string]configstore.AccountPatch
}

func (f *fakeAccountStore) IncrementAccountUsage(providerID, accountID string, now time.Time) error {
	f.incremented = append(f.incremented, accountID)
	return nil
}

func (f *fakeAccountStore) UpdateAccount(providerID, accountID string, patch configstore.AccountPatch) error {
	if f.patched == nil {
		f.patched = map[string]configstore.AccountPatch{}
	}
	f.patched[accountID] = patch
	return nil
}

type fakeFailureTracker struct {
	marked  []string
	cleared []string
	demoted bool // value MarkAccountFailed returns on every call
}

func (f *fakeFailureTracker) MarkAccountFailed(accountID string) bool {
	f.marked = append(f.marked, accountID)
	return f.demoted
}
func (f *fakeFailureTracker) ClearAccountFailure(accountID string) { f.cleared = append(f.cleared, accountID) }

type fakeStatusRecorder struct {
	starts    int
	successes int
	failures  int
}

func (f *fakeStatusRecorder) RecordRequestStart(model, providerID, accountID string) { f.starts++ }
func (f *fakeStatusRecorder) RecordRequestSuccess(latency time.Duration)             { f.successes++ }
func (f *fakeStatusRecorder) RecordRequestFailure(latency time.Duration)             { f.failures++ }

const testAuthStyle domain.AuthStyle = "test-forwarder-vendor"

type stubAdapter struct {
	result *domain.ForwardResult
	err    error

	refreshCred    *domain.Credential
	refreshErr     error
	gotCredentials map[string]string
}

func (s *stubAdapter) captureCredentials(credentials map[string]string) {
	s.gotCredentials = credentials
}

func (s *stubAdapter) ValidateToken(ctx context.Context, credentials map[string]string) (adapter.ValidateResult, error) {
	return adapter.ValidateResult{}, nil
}
func (s *stubAdapter) RefreshToken(ctx context.Context, credentials map[string]string) (*domain.Credential, error) {
	if s.refreshCred != nil || s.refreshErr != nil {
		return s.refreshCred, s.refreshErr
	}
	return nil, nil
}
func (s *stubAdapter) ForwardChatCompletion(ctx context.Context, req *wire.ChatCompletionRequest, credentials map[string]string, actualModel string) (*domain.ForwardResult, error) {
	s.captureCredentials(credentials)
	return s.result, s.err
}
func (s *stubAdapter) GetAccountInfo(ctx context.Context, credentials map[string]string) (*adapter.AccountInfo, error) {
	return nil, nil
}

var registeredStub *stubAdapter

func init() {
	adapter.RegisterFactory(testAuthStyle, func(provider domain.Provider) (adapter.Adapter, error) {
		return registeredStub, nil
	})
}

func testSelection() *domain.AccountSelection {
	return &domain.AccountSelection{
		Account:     &domain.Account{ID: "acc1", ProviderID: "prov1"},
		Provider:    &domain.Provider{ID: "prov1", Auth: testAuthStyle},
		ActualModel: "actual-model",
	}
}

func TestForward_SuccessUpdatesCountersAndClearsFailure(t *testing.T) {
	registeredStub = &stubAdapter{result: &domain.ForwardResult{Success: true, Status: 200}}
	store := &fakeAccountStore{}
	failures := &fakeFailureTracker{}
	statusc := &fakeStatusRecorder{}
	f := New(store, failures, statusc, time.Second)

	result := f.Forward(context.Background(), testSelection(), &wire.ChatCompletionRequest{Model: "m"}, nil)

	if !result.Success {
		t.Fatalf("expected success")
	}
	if len(store.incremented) != 1 || store.incremented[0] != "acc1" {
		t.Errorf("expected acc1 usage incremented, got %+v", store.incremented)
	}
	if len(failures.cleared) != 1 || failures.cleared[0] != "acc1" {
		t.Errorf("expected acc1 failure cleared, got %+v", failures.cleared)
	}
	if statusc.starts != 1 || statusc.successes != 1 || statusc.failures != 0 {
		t.Errorf("unexpected status counters: %+v", statusc)
	}
}

func TestForward_Failure500MarksAccountFailed(t *testing.T) {
	registeredStub = &stubAdapter{result: &domain.ForwardResult{Success: false, Status: 500, Err: errors.New("boom")}}
	store := &fakeAccountStore{}
	failures := &fakeFailureTracker{}
	statusc := &fakeStatusRecorder{}
	f := New(store, failures, statusc, time.Second)

	result := f.Forward(context.Background(), testSelection(), &wire.ChatCompletionRequest{Model: "m"}, nil)

	if result.Success {
		t.Fatalf("expected failure")
	}
	if len(failures.marked) != 1 || failures.marked[0] != "acc1" {
		t.Errorf("expected acc1 marked failed, got %+v", failures.marked)
	}
	if statusc.failures != 1 {
		t.Errorf("expected 1 recorded failure, got %d", statusc.failures)
	}
}

func TestForward_FailureBelowThresholdDoesNotDemoteStatus(t *testing.T) {
	registeredStub = &stubAdapter{result: &domain.ForwardResult{Success: false, Status: 500, Err: errors.New("boom")}}
	store := &fakeAccountStore{}
	failures := &fakeFailureTracker{demoted: false}
	statusc := &fakeStatusRecorder{}
	f := New(store, failures, statusc, time.Second)

	f.Forward(context.Background(), testSelection(), &wire.ChatCompletionRequest{Model: "m"}, nil)

	if len(failures.marked) != 1 {
		t.Fatalf("expected account marked failed, got %+v", failures.marked)
	}
	if _, patched := store.patched["acc1"]; patched {
		t.Errorf("errorMessage/status must not change before the account is demoted, got patch %+v", store.patched["acc1"])
	}
}

func TestForward_FailureAtThresholdDemotesStatusAndSetsErrorMessage(t *testing.T) {
	registeredStub = &stubAdapter{result: &domain.ForwardResult{Success: false, Status: 500, Err: errors.New("boom")}}
	store := &fakeAccountStore{}
	failures := &fakeFailureTracker{demoted: true}
	statusc := &fakeStatusRecorder{}
	f := New(store, failures, statusc, time.Second)

	f.Forward(context.Background(), testSelection(), &wire.ChatCompletionRequest{Model: "m"}, nil)

	patch, ok := store.patched["acc1"]
	if !ok {
		t.Fatalf("expected a patch once the account is demoted")
	}
	if patch.Status == nil || *patch.Status != domain.StatusError {
		t.Errorf("expected Status patched to StatusError, got %+v", patch.Status)
	}
	if patch.ErrorMessage == nil || *patch.ErrorMessage != "boom" {
		t.Errorf("expected ErrorMessage %q, got %+v", "boom", patch.ErrorMessage)
	}
}

func TestForward_Failure429DoesNotMarkAccountFailed(t *testing.T) {
	registeredStub = &stubAdapter{result: &domain.ForwardResult{Success: false, Status: 429, Err: errors.New("rate limited")}}
	store := &fakeAccountStore{}
	failures := &fakeFailureTracker{}
	statusc := &fakeStatusRecorder{}
	f := New(store, failures, statusc, time.Second)

	f.Forward(context.Background(), testSelection(), &wire.ChatCompletionRequest{Model: "m"}, nil)

	if len(failures.marked) != 0 {
		t.Errorf("429 must not count as a failure, got marked=%+v", failures.marked)
	}
}

func TestForward_RefreshTokenMergesFreshCredentialAndPersistsIt(t *testing.T) {
	registeredStub = &stubAdapter{
		result:      &domain.ForwardResult{Success: true, Status: 200},
		refreshCred: &domain.Credential{Type: domain.CredentialAccess, Value: "fresh-access", RefreshToken: "fresh-refresh"},
	}
	store := &fakeAccountStore{}
	failures := &fakeFailureTracker{}
	statusc := &fakeStatusRecorder{}
	f := New(store, failures, statusc, time.Second)

	f.Forward(context.Background(), testSelection(), &wire.ChatCompletionRequest{Model: "m"}, map[string]string{"refresh_token": "old-refresh"})

	if registeredStub.gotCredentials["access_token"] != "fresh-access" {
		t.Errorf("expected the forwarded credentials to carry the refreshed access_token, got %+v", registeredStub.gotCredentials)
	}
	if registeredStub.gotCredentials["refresh_token"] != "fresh-refresh" {
		t.Errorf("expected the rotated refresh_token to be carried forward, got %+v", registeredStub.gotCredentials)
	}
	patch, ok := store.patched["acc1"]
	if !ok || patch.Credentials == nil {
		t.Fatalf("expected the refreshed credentials to be persisted, got %+v", store.patched)
	}
	if patch.Credentials["access_token"] != "fresh-access" {
		t.Errorf("expected persisted credentials to carry fresh-access, got %+v", patch.Credentials)
	}
}

func TestForward_RefreshTokenErrorProceedsWithExistingCredentials(t *testing.T) {
	registeredStub = &stubAdapter{
		result:     &domain.ForwardResult{Success: false, Status: 401, Err: errors.New("unauthorized")},
		refreshErr: errors.New("refresh failed"),
	}
	store := &fakeAccountStore{}
	failures := &fakeFailureTracker{}
	statusc := &fakeStatusRecorder{}
	f := New(store, failures, statusc, time.Second)

	result := f.Forward(context.Background(), testSelection(), &wire.ChatCompletionRequest{Model: "m"}, map[string]string{"access_token": "stale"})

	if result.Success {
		t.Fatalf("expected failure to surface, not be masked by the refresh error")
	}
	if registeredStub.gotCredentials["access_token"] != "stale" {
		t.Errorf("expected the forwarder to proceed with the existing credential on refresh failure, got %+v", registeredStub.gotCredentials)
	}
}

func TestForward_AdapterDispatchErrorIsSurfacedAsFailure(t *testing.T) {
	store := &fakeAccountStore{}
	failures := &fakeFailureTracker{}
	statusc := &fakeStatusRecorder{}
	f := New(store, failures, statusc, time.Second)

	sel := testSelection()
	sel.Provider.Auth = "unregistered-auth-style"

	result := f.Forward(context.Background(), sel, &wire.ChatCompletionRequest{Model: "m"}, nil)
	if result.Success {
		t.Fatalf("expected failure for unregistered auth style")
	}
}

// fakeReadCloser feeds a scripted sequence of reads, optionally ending in
// an error instead of io.EOF — used to simulate an abrupt upstream close.
type fakeReadCloser struct {
	chunks [][]byte
	endErr error
	closed bool
}

func (f *fakeReadCloser) Read(p []byte) (int, error) {
	if len(f.chunks) == 0 {
		return 0, f.endErr
	}
	n := copy(p, f.chunks[0])
	f.chunks[0] = f.chunks[0][n:]
	if len(f.chunks[0]) == 0 {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakeReadCloser) Close() error {
	f.closed = true
	return nil
}

func collectingWriter() (write func([]byte) error, flush func(), out func() string) {
	var buf bytes.Buffer
	return func(p []byte) error { buf.Write(p); return nil },
		func() {},
		func() string { return buf.String() }
}

// TestPipeStream_S5MidStreamError reproduces spec's S5: upstream emits
// two valid chunks then the connection resets; the client sees both
// chunks, a synthesized error chunk, then [DONE].
func TestPipeStream_S5MidStreamError(t *testing.T) {
	upstream := &fakeReadCloser{
		chunks: [][]byte{
			[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"),
			[]byte("data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n"),
		},
		endErr: errors.New("connection reset by peer"),
	}
	result := &domain.ForwardResult{Stream: upstream, SkipTransform: false}
	write, flush, out := collectingWriter()

	if err := PipeStream(result, "resp1", "m", 1234, write, flush); err != nil {
		t.Fatalf("PipeStream returned error: %v", err)
	}
	got := out()
	if !strings.Contains(got, `"content":"Hi"`) || !strings.Contains(got, `"content":" there"`) {
		t.Errorf("expected both content chunks present, got %q", got)
	}
	if !strings.Contains(got, `[Error: connection reset by peer]`) {
		t.Errorf("expected synthesized error chunk, got %q", got)
	}
	if !strings.HasSuffix(got, "data: [DONE]\n\n") {
		t.Errorf("expected stream to end with [DONE], got %q", got)
	}
	if !upstream.closed {
		t.Errorf("expected upstream stream to be closed")
	}
}

func TestPipeStream_NormalEndAppendsDone(t *testing.T) {
	upstream := &fakeReadCloser{
		chunks: [][]byte{[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")},
		endErr: io.EOF,
	}
	result := &domain.ForwardResult{Stream: upstream}
	write, flush, out := collectingWriter()

	if err := PipeStream(result, "resp1", "m", 1234, write, flush); err != nil {
		t.Fatalf("PipeStream returned error: %v", err)
	}
	got := out()
	if strings.Count(got, "[DONE]") != 1 {
		t.Errorf("expected exactly one [DONE], got %q", got)
	}
}

func TestPipeStream_SkipTransformPassesBytesThrough(t *testing.T) {
	raw := "data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	upstream := &fakeReadCloser{chunks: [][]byte{[]byte(raw)}, endErr: io.EOF}
	result := &domain.ForwardResult{Stream: upstream, SkipTransform: true}
	write, flush, out := collectingWriter()

	if err := PipeStream(result, "resp1", "m", 1234, write, flush); err != nil {
		t.Fatalf("PipeStream returned error: %v", err)
	}
	if out() != raw {
		t.Errorf("expected raw passthrough, got %q want %q", out(), raw)
	}
}

func TestPipeStream_SkipTransformAbruptCloseStillEndsWithDone(t *testing.T) {
	upstream := &fakeReadCloser{
		chunks: [][]byte{[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")},
		endErr: errors.New("unexpected EOF"),
	}
	result := &domain.ForwardResult{Stream: upstream, SkipTransform: true}
	write, flush, out := collectingWriter()

	if err := PipeStream(result, "resp1", "m", 1234, write, flush); err != nil {
		t.Fatalf("PipeStream returned error: %v", err)
	}
	if !strings.HasSuffix(out(), "data: [DONE]\n\n") {
		t.Errorf("expected stream to end with [DONE], got %q", out())
	}
}
