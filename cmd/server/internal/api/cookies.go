package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/cmd/server/internal/middleware"
)

const (
	accessCookiePath  = "/"
	refreshCookiePath = "/api/v1/auth"
	publicCookiePath  = "/api/v1/public"
)

// CookieConfig 凭证 cookie 属性
type CookieConfig struct {
	Secure     bool
	Domain     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	PublicTTL  time.Duration
}

func (cc CookieConfig) set(c *gin.Context, name, value, path string, ttl time.Duration, sameSite http.SameSite) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cc.Domain,
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: sameSite,
	})
}

func (cc CookieConfig) clear(c *gin.Context, name, path string, sameSite http.SameSite) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   cc.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: sameSite,
	})
}

// setAuthCookies 访问令牌全站可用；刷新令牌仅限 /api/v1/auth 且 SameSite=Strict
func (cc CookieConfig) setAuthCookies(c *gin.Context, accessToken, refreshToken string) {
	cc.set(c, middleware.AccessCookie, accessToken, accessCookiePath, cc.AccessTTL, http.SameSiteLaxMode)
	cc.set(c, middleware.RefreshCookie, refreshToken, refreshCookiePath, cc.RefreshTTL, http.SameSiteStrictMode)
}

func (cc CookieConfig) clearAuthCookies(c *gin.Context) {
	cc.clear(c, middleware.AccessCookie, accessCookiePath, http.SameSiteLaxMode)
	cc.clear(c, middleware.RefreshCookie, refreshCookiePath, http.SameSiteStrictMode)
}

// setPublicCookie 公开访问令牌仅发往 /api/v1/public
func (cc CookieConfig) setPublicCookie(c *gin.Context, token string) {
	cc.set(c, middleware.PublicCookie, token, publicCookiePath, cc.PublicTTL, http.SameSiteLaxMode)
}
