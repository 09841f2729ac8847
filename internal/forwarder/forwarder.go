// Package forwarder performs the one end-to-end upstream call spec §4.4
// describes: adapter dispatch, a request-level deadline, counter/failure-
// window bookkeeping, and (for streaming requests) wiring the SSE parser
// and stream transformer between the upstream byte stream and the
// client, guaranteeing every 200-status stream ends in `data:
// [DONE]\n\n` regardless of how the upstream connection ends.
//
// Grounded on the teacher's internal/infrastructure/llm.Router for the
// "measure latency, update stats, record success/failure" call shape
// around a dispatched call, and on the teacher's SSE readers
// (internal/infrastructure/llm/openai/sse.go) for line-by-line streaming
// I/O — generalized here into the explicit parser/transformer pipeline
// internal/sse and internal/stream already implement.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/ngoclaw/llmgateway/internal/adapter"
	"github.com/ngoclaw/llmgateway/internal/configstore"
	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/sse"
	"github.com/ngoclaw/llmgateway/internal/stream"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

// AccountStore is the subset of configstore.Store the forwarder updates
// after a completed request.
type AccountStore interface {
	IncrementAccountUsage(providerID, accountID string, now time.Time) error
	UpdateAccount(providerID, accountID string, patch configstore.AccountPatch) error
}

var _ AccountStore = (*configstore.Store)(nil)

// FailureTracker is the subset of balancer.Balancer the forwarder drives
// on success/failure (spec §4.3/§4.4). MarkAccountFailed reports whether
// the account has now crossed into the failure window, which is the
// forwarder's signal to demote the account's status (spec.md:236).
type FailureTracker interface {
	MarkAccountFailed(accountID string) bool
	ClearAccountFailure(accountID string)
}

// StatusRecorder is the subset of status.Collector the forwarder drives.
type StatusRecorder interface {
	RecordRequestStart(model, providerID, accountID string)
	RecordRequestSuccess(latency time.Duration)
	RecordRequestFailure(latency time.Duration)
}

// Forwarder performs one upstream call per Forward invocation.
type Forwarder struct {
	store    AccountStore
	failures FailureTracker
	statusc  StatusRecorder
	timeout  time.Duration
}

// New builds a Forwarder. timeout is the default per-request deadline
// (spec §4.4: 120s default, configurable — the caller supplies whatever
// config.Config.Timeout() resolved to).
func New(store AccountStore, failures FailureTracker, statusc StatusRecorder, timeout time.Duration) *Forwarder {
	return &Forwarder{store: store, failures: failures, statusc: statusc, timeout: timeout}
}

// Forward dispatches to the adapter selected by sel.Provider.Auth,
// applies the request-level deadline, and updates the status collector
// and failure window per spec §4.4's counter-update discipline. The
// returned ForwardResult's Stream, if non-nil, must be consumed (and
// closed) by PipeStream — callers must not leave it unread.
func (f *Forwarder) Forward(ctx context.Context, sel *domain.AccountSelection, req *wire.ChatCompletionRequest, credentials map[string]string) *domain.ForwardResult {
	f.statusc.RecordRequestStart(req.Model, sel.Provider.ID, sel.Account.ID)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)

	result := f.dispatch(ctx, sel, req, credentials)
	if ctx.Err() == context.DeadlineExceeded && !result.Success {
		result.Status = 504
	}
	// cancel is deferred to the stream consumer when a stream was opened
	// (PipeStream needs ctx alive for the duration of the read loop);
	// otherwise release it immediately.
	if result.Stream == nil {
		cancel()
	} else {
		result.Stream = &cancelOnClose{ReadCloser: result.Stream, cancel: cancel}
	}

	f.finish(sel, result, time.Since(start))
	return result
}

func (f *Forwarder) dispatch(ctx context.Context, sel *domain.AccountSelection, req *wire.ChatCompletionRequest, credentials map[string]string) *domain.ForwardResult {
	ad, err := adapter.New(*sel.Provider)
	if err != nil {
		return &domain.ForwardResult{Success: false, Err: err}
	}

	credentials = f.refresh(ctx, ad, sel, credentials)

	result, err := ad.ForwardChatCompletion(ctx, req, credentials, sel.ActualModel)
	if err != nil {
		return &domain.ForwardResult{Success: false, Err: err}
	}
	if result == nil {
		return &domain.ForwardResult{Success: false, Err: context.Canceled}
	}
	return result
}

// refresh gives every adapter a chance to mint a fresh credential before
// the forward call (spec §4.5's refreshToken, spec.md:226's refresh-token
// vendor shape where a stored account may hold only a refresh_token and
// no access_token yet). A vendor that doesn't support refreshing returns
// (nil, nil) immediately, so this costs nothing beyond one interface
// call. A refresh error is not surfaced — spec.md:241 is explicit that
// the forwarder proceeds with the existing credentials and lets the
// balancer's failure window catch the consequent upstream failure.
func (f *Forwarder) refresh(ctx context.Context, ad adapter.Adapter, sel *domain.AccountSelection, credentials map[string]string) map[string]string {
	cred, err := ad.RefreshToken(ctx, credentials)
	if err != nil || cred == nil {
		return credentials
	}

	merged := make(map[string]string, len(credentials)+2)
	for k, v := range credentials {
		merged[k] = v
	}
	applyCredential(merged, cred)

	_ = f.store.UpdateAccount(sel.Provider.ID, sel.Account.ID, configstore.AccountPatch{Credentials: merged})
	return merged
}

// applyCredential writes a refreshed domain.Credential back into the
// opaque credential map, keyed per spec.md:226's per-style shapes.
func applyCredential(credentials map[string]string, cred *domain.Credential) {
	switch cred.Type {
	case domain.CredentialAccess:
		credentials["access_token"] = cred.Value
		if cred.RefreshToken != "" {
			credentials["refresh_token"] = cred.RefreshToken
		}
	case domain.CredentialRefresh:
		credentials["refresh_token"] = cred.Value
	case domain.CredentialJWT:
		credentials["token"] = cred.Value
	case domain.CredentialCookie:
		credentials["ticket"] = cred.Value
	}
}

// finish implements spec §4.4's counter-update discipline: always record
// latency; on success bump usage counters and clear the failure window;
// on failure with status >= 400 and != 429, mark the account failed.
func (f *Forwarder) finish(sel *domain.AccountSelection, result *domain.ForwardResult, latency time.Duration) {
	if result.Success {
		f.statusc.RecordRequestSuccess(latency)
		_ = f.store.IncrementAccountUsage(sel.Provider.ID, sel.Account.ID, time.Now())
		f.failures.ClearAccountFailure(sel.Account.ID)
		return
	}

	f.statusc.RecordRequestFailure(latency)
	if result.Status >= 400 && result.Status != 429 {
		demoted := f.failures.MarkAccountFailed(sel.Account.ID)
		if !demoted {
			return
		}
		// The account just crossed into the failure window: the failure
		// policy demotes its status to error (spec.md:39/236), and only
		// now is errorMessage updated to reflect why.
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		status := domain.StatusError
		_ = f.store.UpdateAccount(sel.Provider.ID, sel.Account.ID, configstore.AccountPatch{
			Status:       &status,
			ErrorMessage: &errMsg,
		})
	}
}

// cancelOnClose releases the request's context.CancelFunc when the
// stream is closed, so a streamed request's deadline timer doesn't leak
// past PipeStream's return.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// PipeStream implements spec §4.4's streaming wiring: skipTransform
// vendors get their bytes piped straight through; everyone else goes
// through SSEParser -> StreamTransformer. Regardless of path, the client
// always sees a terminal `data: [DONE]\n\n`, even when the upstream
// connection ends abruptly (invariant I2). Output goes out through write
// and is flushed via flush after every frame — callers pass their
// http.ResponseWriter's Write and Flush.
func PipeStream(result *domain.ForwardResult, responseID, model string, created int64, write func([]byte) error, flush func()) error {
	defer result.Stream.Close()

	if result.SkipTransform {
		return pipeRaw(result.Stream, write, flush)
	}
	return pipeTransformed(result.Stream, responseID, model, created, write, flush)
}

// pipeRaw passes a skipTransform vendor's bytes straight through — its
// stream is already OpenAI-chunk-shaped and typically ends with its own
// "data: [DONE]\n\n". sawDone tracks whether that marker was already
// seen so a clean EOF doesn't duplicate it; an abrupt (non-EOF) read
// error still synthesizes the error chunk and terminal DONE regardless,
// since that means the upstream never finished framing its own response.
func pipeRaw(upstream io.Reader, write func([]byte) error, flush func()) error {
	buf := make([]byte, 32*1024)
	sawDone := false
	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if bytes.Contains(chunk, doneMarker) {
				sawDone = true
			}
			if err := write(chunk); err != nil {
				return err
			}
			flush()
		}
		if readErr != nil {
			if readErr == io.EOF {
				if sawDone {
					return nil
				}
				return writeDone(write, flush)
			}
			return writeErrorThenDone(readErr.Error(), write, flush)
		}
	}
}

var doneMarker = []byte("[DONE]")

func pipeTransformed(upstream io.Reader, responseID, model string, created int64, write func([]byte) error, flush func()) error {
	parser := sse.New()
	transformer := stream.New(responseID, model, created)
	buf := make([]byte, 32*1024)

	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				done, err := writeFrames(transformer.Advance(ev), write, flush)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				_, err := writeFrames(transformer.Advance(domain.SSEEvent{Data: "[DONE]"}), write, flush)
				return err
			}
			return writeErrorThenDone(readErr.Error(), write, flush)
		}
	}
}

func writeFrames(frames []stream.Frame, write func([]byte) error, flush func()) (done bool, err error) {
	for _, fr := range frames {
		if fr.Done {
			if err := write([]byte("data: [DONE]\n\n")); err != nil {
				return false, err
			}
			flush()
			return true, nil
		}
		if fr.Chunk != nil {
			payload, marshalErr := json.Marshal(fr.Chunk)
			if marshalErr != nil {
				continue
			}
			if err := write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
				return false, err
			}
			flush()
			continue
		}
		if err := write([]byte("data: " + fr.Raw + "\n\n")); err != nil {
			return false, err
		}
		flush()
	}
	return false, nil
}

func writeErrorThenDone(message string, write func([]byte) error, flush func()) error {
	chunk := stream.ErrorFrame(message)
	payload, err := json.Marshal(chunk)
	if err != nil {
		return writeDone(write, flush)
	}
	if err := write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
		return err
	}
	flush()
	return writeDone(write, flush)
}

func writeDone(write func([]byte) error, flush func()) error {
	if err := write([]byte("data: [DONE]\n\n")); err != nil {
		return err
	}
	flush()
	return nil
}
