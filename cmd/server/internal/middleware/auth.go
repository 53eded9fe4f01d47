package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
)

// Cookie 名称
const (
	AccessCookie  = "omniqr_access"
	RefreshCookie = "omniqr_refresh"
	PublicCookie  = "omniqr_public"
)

const (
	principalKey     = "principal"
	publicClaimsKey  = "public_claims"
	publicInvalidKey = "public_token_invalid"
)

// Principal 已认证用户
type Principal struct {
	UserID         string
	OrganizationID string
	Role           models.Role
	Email          string
}

// BearerToken 读取 Authorization: Bearer 头
func BearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// tokenFrom 优先读 cookie，其次 Bearer
func tokenFrom(c *gin.Context, cookie string) string {
	if v, err := c.Cookie(cookie); err == nil && v != "" {
		return v
	}
	return BearerToken(c)
}

// RequireAuth 校验访问令牌；失败统一返回 401，不区分原因
func RequireAuth(issuer *tokens.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFrom(c, AccessCookie)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		claims, err := issuer.VerifyAccess(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(principalKey, &Principal{
			UserID:         claims.UserID,
			OrganizationID: claims.OrganizationID,
			Role:           claims.Role,
			Email:          claims.Email,
		})
		c.Next()
	}
}

// RequireRole 要求角色不低于 min，须在 RequireAuth 之后使用
func RequireRole(min models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !p.Role.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// CurrentPrincipal 返回当前用户，未认证时为 nil
func CurrentPrincipal(c *gin.Context) *Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}

// AttachPublicAccess 解析可选的公开访问令牌，不拦截请求
// 令牌存在但无效时标记 invalid，由具体路由决定如何处理
func AttachPublicAccess(issuer *tokens.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFrom(c, PublicCookie)
		if raw != "" {
			claims, err := issuer.VerifyPublic(raw)
			if err != nil {
				c.Set(publicInvalidKey, true)
			} else {
				c.Set(publicClaimsKey, claims)
			}
		}
		c.Next()
	}
}

// PublicAccess 返回公开访问令牌声明与是否携带了无效令牌
func PublicAccess(c *gin.Context) (*tokens.PublicClaims, bool) {
	invalid := c.GetBool(publicInvalidKey)
	if v, ok := c.Get(publicClaimsKey); ok {
		if claims, ok := v.(*tokens.PublicClaims); ok {
			return claims, invalid
		}
	}
	return nil, invalid
}
