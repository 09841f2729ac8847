package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/llmgateway/internal/domain"
	"github.com/ngoclaw/llmgateway/internal/wire"
)

// Models handles GET /v1/models (spec §4.1): the union of supported
// models across enabled providers with at least one active account,
// duplicates collapsed. A provider whose SupportedModels is empty
// ("supports everything", spec §4.3) contributes no concrete ids here —
// there's nothing enumerable to list for it.
func (s *Server) Models(c *gin.Context) {
	now := time.Now().Unix()
	seen := make(map[string]bool)
	var models []wire.Model

	for _, p := range s.store.GetProviders() {
		if !p.Enabled {
			continue
		}
		if !hasActiveAccount(s.store.GetAccountsByProviderID(p.ID, false)) {
			continue
		}
		for _, modelID := range p.SupportedModels {
			if strings.Contains(modelID, "*") {
				continue
			}
			if seen[modelID] {
				continue
			}
			seen[modelID] = true
			models = append(models, wire.Model{
				ID:      modelID,
				Object:  "model",
				Created: now,
				OwnedBy: p.ID,
			})
		}
	}

	c.JSON(http.StatusOK, wire.ModelsResponse{Object: "list", Data: models})
}

func hasActiveAccount(accounts []domain.Account) bool {
	for _, acc := range accounts {
		if acc.Enabled && acc.Status == domain.StatusActive {
			return true
		}
	}
	return false
}
