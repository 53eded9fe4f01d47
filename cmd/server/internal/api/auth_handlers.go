package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/auth"
	"github.com/omniqr/scansuite/cmd/server/internal/middleware"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
)

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

func clientMeta(c *gin.Context) auth.ClientMeta {
	return auth.ClientMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func sessionBody(user *models.User, org *models.Organization) gin.H {
	return gin.H{
		"user": gin.H{
			"id":             user.ID,
			"email":          user.Email,
			"role":           user.Role,
			"organizationId": user.OrganizationID,
		},
		"organization": gin.H{
			"id":           org.ID,
			"name":         org.Name,
			"primaryColor": org.PrimaryColor,
			"logoUrl":      org.LogoURL,
		},
	}
}

// refreshTokenFrom 优先读 cookie，其次请求体 refreshToken
func refreshTokenFrom(c *gin.Context) string {
	if v, err := c.Cookie(middleware.RefreshCookie); err == nil && v != "" {
		return v
	}
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err == nil {
		return body.RefreshToken
	}
	return ""
}

// HandleRegister POST /api/v1/auth/register
// 创建组织与 OWNER 用户并写入登录 cookie
func HandleRegister(svc *auth.Service, cookies CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in auth.RegisterInput
		if !bindJSON(c, &in) {
			return
		}
		res, err := svc.Register(c.Request.Context(), in, clientMeta(c))
		if err != nil {
			writeError(c, err)
			return
		}
		cookies.setAuthCookies(c, res.AccessToken, res.RefreshToken)
		c.JSON(http.StatusCreated, sessionBody(res.User, res.Organization))
	}
}

// HandleLogin POST /api/v1/auth/login
func HandleLogin(svc *auth.Service, cookies CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in auth.LoginInput
		if !bindJSON(c, &in) {
			return
		}
		res, err := svc.Login(c.Request.Context(), in, clientMeta(c))
		if err != nil {
			writeError(c, err)
			return
		}
		cookies.setAuthCookies(c, res.AccessToken, res.RefreshToken)
		c.JSON(http.StatusOK, sessionBody(res.User, res.Organization))
	}
}

// HandleRefresh POST /api/v1/auth/refresh
// 轮换刷新令牌；重放旧令牌会吊销会话
func HandleRefresh(svc *auth.Service, cookies CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := refreshTokenFrom(c)
		if token == "" {
			errorResponse(c, http.StatusUnauthorized, "Missing refresh token")
			return
		}
		res, err := svc.Refresh(c.Request.Context(), token, clientMeta(c))
		if err != nil {
			if apperr.Is(err, apperr.KindUnauthorized) {
				cookies.clearAuthCookies(c)
			}
			writeError(c, err)
			return
		}
		cookies.setAuthCookies(c, res.AccessToken, res.RefreshToken)
		c.JSON(http.StatusOK, sessionBody(res.User, res.Organization))
	}
}

// HandleLogout POST /api/v1/auth/logout
// 总是返回 204
func HandleLogout(svc *auth.Service, cookies CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := refreshTokenFrom(c); token != "" {
			svc.Logout(c.Request.Context(), token)
		}
		cookies.clearAuthCookies(c)
		c.Status(http.StatusNoContent)
	}
}

// HandleMe GET /api/v1/auth/me
func HandleMe(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		user, org, err := svc.Me(c.Request.Context(), p.UserID, p.OrganizationID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionBody(user, org))
	}
}
