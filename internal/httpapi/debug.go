package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Healthz handles GET /healthz, grounded on the teacher's
// router.GET("/health", ...) liveness route (SPEC_FULL §4.9).
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /v1/status, a read-only snapshot of the status
// collector (SPEC_FULL §4.9), grounded on the teacher's
// ListProviders/ProviderStatus reporting endpoints.
func (s *Server) Status(c *gin.Context) {
	c.JSON(http.StatusOK, s.statusc.GetStatistics())
}
