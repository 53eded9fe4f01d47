package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/cmd/server/internal/organizations"
)

// HandleGetOrganization GET /api/v1/organization
func HandleGetOrganization(svc *organizations.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		org, err := svc.Get(c.Request.Context(), principal(c).OrganizationID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}

// HandlePatchOrganization PATCH /api/v1/organization
// Required Role: ADMIN
func HandlePatchOrganization(svc *organizations.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in organizations.PatchInput
		if !bindJSON(c, &in) {
			return
		}
		p := principal(c)
		org, err := svc.Patch(c.Request.Context(), p.OrganizationID, p.UserID, in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}

// HandleAuditLogs GET /api/v1/organization/audit-logs?limit=&before=
// Required Role: ADMIN
func HandleAuditLogs(svc *organizations.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				validationErrorResponse(c, map[string]string{"limit": "positive integer"})
				return
			}
			limit = n
		}
		var before time.Time
		if raw := c.Query("before"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				validationErrorResponse(c, map[string]string{"before": "RFC3339 timestamp"})
				return
			}
			before = t.UTC()
		}

		rows, err := svc.AuditLogs(c.Request.Context(), principal(c).OrganizationID, limit, before)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"auditLogs": rows})
	}
}
