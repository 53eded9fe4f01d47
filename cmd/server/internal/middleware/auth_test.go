package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
)

func testIssuer() *tokens.Issuer {
	return tokens.NewIssuer(tokens.Config{
		AccessSecret:  "access-secret-access-secret-0123456789",
		RefreshSecret: "refresh-secret-refresh-secret-0123456789",
		PublicSecret:  "public-secret-public-secret-0123456789",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		PublicTTL:     10 * time.Minute,
	})
}

func protectedRouter(issuer *tokens.Issuer, min models.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/secure", RequireAuth(issuer), RequireRole(min), func(c *gin.Context) {
		p := CurrentPrincipal(c)
		c.String(http.StatusOK, p.UserID+"|"+p.OrganizationID+"|"+string(p.Role))
	})
	return r
}

func TestRequireAuthCookieAndBearer(t *testing.T) {
	issuer := testIssuer()
	r := protectedRouter(issuer, models.RoleViewer)
	token, err := issuer.IssueAccess("user-1", "org-1", models.RoleEditor, "ed@acme.test")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1|org-1|EDITOR", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuthRejectsMissingAndWrongType(t *testing.T) {
	issuer := testIssuer()
	r := protectedRouter(issuer, models.RoleViewer)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/secure", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	public, err := issuer.IssuePublic("meeting-1", "org-1")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+public)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	issuer := testIssuer()
	r := protectedRouter(issuer, models.RoleAdmin)
	token, err := issuer.IssueAccess("user-1", "org-1", models.RoleEditor, "ed@acme.test")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAttachPublicAccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := testIssuer()
	r := gin.New()
	r.GET("/public", AttachPublicAccess(issuer), func(c *gin.Context) {
		claims, invalid := PublicAccess(c)
		switch {
		case invalid:
			c.String(http.StatusOK, "invalid")
		case claims != nil:
			c.String(http.StatusOK, claims.MeetingID)
		default:
			c.String(http.StatusOK, "none")
		}
	})

	serve := func(cookie string) string {
		req := httptest.NewRequest(http.MethodGet, "/public", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: PublicCookie, Value: cookie})
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Body.String()
	}

	token, err := issuer.IssuePublic("meeting-9", "org-1")
	require.NoError(t, err)
	assert.Equal(t, "meeting-9", serve(token))
	assert.Equal(t, "none", serve(""))
	assert.Equal(t, "invalid", serve(token+"x"))
}
