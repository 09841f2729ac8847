package httpapi

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/ngoclaw/llmgateway/pkg/errors"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

// writeError renders err as the OpenAI-shaped error body spec §6 defines,
// using *apperrors.AppError's Status/OAICode when available and falling
// back to a generic 500 internal_error for anything else (spec §7.4 —
// an uncaught exception in the forwarding path is still reported, never
// allowed to panic the handler).
func writeError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalErrorWithCause("internal error", err)
	}
	c.JSON(appErr.Status, wire.ErrorBody{
		Error: wire.ErrorDetail{
			Message: appErr.Message,
			Type:    appErr.Code.OAIType(),
			Code:    appErr.OAICode,
		},
	})
}

// abortWithAppError is writeError for handlers that already hold a typed
// *apperrors.AppError and want to skip the errors.As round-trip.
func abortWithAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.Status, wire.ErrorBody{
		Error: wire.ErrorDetail{
			Message: appErr.Message,
			Type:    appErr.Code.OAIType(),
			Code:    appErr.OAICode,
		},
	})
}
