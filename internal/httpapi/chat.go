package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/llmgateway/internal/wire"
	apperrors "github.com/ngoclaw/llmgateway/pkg/errors"
)

// ChatCompletions handles POST /v1/chat/completions (spec §4.1).
func (s *Server) ChatCompletions(c *gin.Context) {
	var req wire.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewInvalidInputError("invalid request body: "+err.Error()))
		return
	}
	s.dispatch(c, &req)
}
