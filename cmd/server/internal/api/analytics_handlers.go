package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/cmd/server/internal/analytics"
)

// HandleAnalyticsOverview GET /api/v1/analytics/overview
func HandleAnalyticsOverview(svc *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		overview, err := svc.Overview(c.Request.Context(), principal(c).OrganizationID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, overview)
	}
}
