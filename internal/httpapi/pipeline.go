package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/forwarder"
	"github.com/ngoclaw/llmgateway/internal/modelmap"
	"github.com/ngoclaw/llmgateway/internal/stream"
	"github.com/ngoclaw/llmgateway/internal/wire"
	apperrors "github.com/ngoclaw/llmgateway/pkg/errors"
	"go.uber.org/zap"
)

// dispatch is the shared spine both /v1/chat/completions and the legacy
// /v1/completions rewrite run through (spec §2's data-flow): validate,
// resolve the initial model-mapping preference, ask the balancer for a
// candidate, forward, then render streaming or buffered per req.Stream.
func (s *Server) dispatch(c *gin.Context, req *wire.ChatCompletionRequest) {
	if req.Model == "" {
		writeError(c, apperrors.NewInvalidInputError("model is required"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(c, apperrors.NewInvalidInputError("messages must be a non-empty array"))
		return
	}

	cfg := s.store.GetConfig()

	// The model mapper's global (non-per-provider) resolution surfaces
	// the preferredProviderId/preferredAccountId the balancer's preferred
	// short-circuit and provider-scoping consult (spec §4.2/§4.3). A
	// fresh Mapper is built from the live config snapshot on every call
	// instead of being cached, so a hot-reloaded model-mappings list is
	// honored immediately.
	mapper := modelmap.New(cfg.ModelMappings)
	initial := mapper.Resolve(req.Model, "")

	sel := s.balancer.Select(req.Model, cfg.LoadBalanceStrategy, initial.PreferredProviderID, initial.PreferredAccountID)
	if sel == nil {
		abortWithAppError(c, apperrors.NewNoCapacityError())
		return
	}

	credentials := s.credentialsFor(sel)

	requestID := newRequestID()
	created := time.Now().Unix()

	result := s.forwarder.Forward(c.Request.Context(), sel, req, credentials)
	if !result.Success {
		status := result.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		msg := "upstream request failed"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		abortWithAppError(c, apperrors.NewUpstreamError(status, msg, result.Err))
		return
	}

	if req.Stream {
		s.writeStream(c, result, requestID, sel.ActualModel, created)
		return
	}
	s.writeNonStream(c, result, requestID, sel.ActualModel, created)
}

// credentialsFor re-fetches sel.Account's credential bag with
// includeCredentials=true — the balancer never holds credentials itself
// (spec §6's GetAccountsByProviderID(id, includeCredentials=false) is
// what it reads), so the forwarder's adapter dispatch needs one more
// store round trip right before the call.
func (s *Server) credentialsFor(sel *domain.AccountSelection) map[string]string {
	accounts := s.store.GetAccountsByProviderID(sel.Provider.ID, true)
	for _, acc := range accounts {
		if acc.ID == sel.Account.ID {
			return acc.Credentials
		}
	}
	return nil
}

// writeStream sets spec §4.1's SSE headers and wires the forwarder's
// PipeStream directly onto the gin ResponseWriter's Write/Flush.
func (s *Server) writeStream(c *gin.Context, result *domain.ForwardResult, requestID, model string, created int64) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	write := func(p []byte) error {
		_, err := c.Writer.Write(p)
		return err
	}
	flush := func() { c.Writer.Flush() }

	if err := forwarder.PipeStream(result, requestID, model, created, write, flush); err != nil {
		s.logger.Warn("stream ended with write error", zap.Error(err), zap.String("request_id", requestID))
	}
}

// writeNonStream renders the buffered ForwardResult.Body as spec §6's
// ChatCompletionResponse. A skipTransform vendor's body is already
// OpenAI-response-shaped (its non-stream endpoint mirrors its already
// OpenAI-chunk-shaped stream), so it's decoded and re-served with the
// gateway's own requestId/created stamped in where the vendor left them
// blank. Any other vendor's body is its native non-stream JSON, which is
// run through the same rawChunk-decoding stream.Aggregate uses for
// streamed chunks — treating the single buffered document as one SSE
// event reuses the transformer's field-preference logic instead of
// duplicating it for a buffered shape.
func (s *Server) writeNonStream(c *gin.Context, result *domain.ForwardResult, requestID, model string, created int64) {
	if result.SkipTransform {
		var resp wire.ChatCompletionResponse
		if err := json.Unmarshal(result.Body, &resp); err != nil {
			abortWithAppError(c, apperrors.NewInternalErrorWithCause("malformed upstream response", err))
			return
		}
		if resp.ID == "" {
			resp.ID = requestID
		}
		if resp.Object == "" {
			resp.Object = "chat.completion"
		}
		if resp.Created == 0 {
			resp.Created = created
		}
		if resp.Model == "" {
			resp.Model = model
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	events := []domain.SSEEvent{{Data: string(result.Body)}}
	resp := stream.Aggregate(events, requestID, model, created)
	c.JSON(http.StatusOK, resp)
}
