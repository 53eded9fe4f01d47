package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/cmd/server/internal/middleware"
	"github.com/omniqr/scansuite/cmd/server/internal/public"
)

func visitor(c *gin.Context) public.Visitor {
	return public.Visitor{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// HandlePublicMeeting GET /api/v1/public/meetings/:slug
// 持有该会议的公开令牌时跳过密码；无效令牌按未持有处理
func HandlePublicMeeting(svc *public.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := middleware.PublicAccess(c)
		landing, err := svc.Lookup(c.Request.Context(), c.Param("slug"), claims, visitor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, landing)
	}
}

// HandleVerifyMeetingPassword POST /api/v1/public/meetings/:slug/verify
func HandleVerifyMeetingPassword(svc *public.Service, cookies CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in public.VerifyInput
		if !bindJSON(c, &in) {
			return
		}
		token, err := svc.Verify(c.Request.Context(), c.Param("slug"), in, visitor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		cookies.setPublicCookie(c, token)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// HandlePublicFileAccessURL GET /api/v1/public/files/:fileId/access-url
// 携带了无效的公开令牌直接 401
func HandlePublicFileAccessURL(svc *public.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, invalid := middleware.PublicAccess(c)
		if invalid {
			errorResponse(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		res, err := svc.FileAccessURL(c.Request.Context(), c.Param("fileId"), claims, visitor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
