package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/cmd/server/internal/files"
)

// HandlePresignUpload POST /api/v1/files/presign-upload
// Required Role: EDITOR
func HandlePresignUpload(ledger *files.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in files.PresignInput
		if !bindJSON(c, &in) {
			return
		}
		p := principal(c)
		res, err := ledger.Presign(c.Request.Context(), p.OrganizationID, p.UserID, in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// HandleCompleteUpload POST /api/v1/files/:fileId/complete
// Required Role: EDITOR
func HandleCompleteUpload(ledger *files.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in files.CompleteInput
		if !bindJSON(c, &in) {
			return
		}
		p := principal(c)
		res, err := ledger.Complete(c.Request.Context(), p.OrganizationID, p.UserID, c.Param("fileId"), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// HandleFileAccessURL GET /api/v1/files/:fileId/access-url
func HandleFileAccessURL(ledger *files.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		res, err := ledger.DownloadURL(c.Request.Context(), p.OrganizationID, p.UserID, c.Param("fileId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
