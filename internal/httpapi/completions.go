package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/llmgateway/internal/wire"
	apperrors "github.com/ngoclaw/llmgateway/pkg/errors"
)

// Completions handles the legacy POST /v1/completions (spec §4.1/S4):
// it rewrites `prompt` into `messages` and then runs the same dispatch
// pipeline as /v1/chat/completions.
func (s *Server) Completions(c *gin.Context) {
	var body wire.CompletionsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.NewInvalidInputError("invalid request body: "+err.Error()))
		return
	}

	messages, err := promptToMessages(body.Prompt)
	if err != nil {
		writeError(c, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	req := &wire.ChatCompletionRequest{
		Model:    body.Model,
		Messages: messages,
		Stream:   body.Stream,
	}
	s.dispatch(c, req)
}

// promptToMessages implements spec §4.1's rewrite rule: a single string
// becomes one user turn; an array becomes alternating user/assistant
// turns starting from user (spec's S4 scenario exactly).
func promptToMessages(raw json.RawMessage) ([]wire.Message, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []wire.Message{{Role: "user", Content: wire.StrPtr(single)}}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("prompt must not be empty")
		}
		messages := make([]wire.Message, len(list))
		for i, text := range list {
			role := "user"
			if i%2 == 1 {
				role = "assistant"
			}
			messages[i] = wire.Message{Role: role, Content: wire.StrPtr(text)}
		}
		return messages, nil
	}

	return nil, fmt.Errorf("prompt must be a string or an array of strings")
}
