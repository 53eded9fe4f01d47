package api

import (
	"io"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/analytics"
	"github.com/omniqr/scansuite/cmd/server/internal/auth"
	"github.com/omniqr/scansuite/cmd/server/internal/files"
	"github.com/omniqr/scansuite/cmd/server/internal/meetings"
	"github.com/omniqr/scansuite/cmd/server/internal/middleware"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/organizations"
	"github.com/omniqr/scansuite/cmd/server/internal/public"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/storage"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
)

// Deps 路由依赖
type Deps struct {
	DB            *gorm.DB
	Objects       storage.ObjectStore
	Issuer        *tokens.Issuer
	Auth          *auth.Service
	Meetings      *meetings.Service
	Files         *files.Ledger
	Public        *public.Service
	Organizations *organizations.Service
	Analytics     *analytics.Service
	Hub           *realtime.Hub
	Log           *slog.Logger

	Cookies         CookieConfig
	AllowedOrigins  []string
	AuthPerMinute   int
	PublicPerMinute int
	StartTime       time.Time
}

// NewRouter 组装 gin 引擎与全部路由
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 探针与指标（无需认证）
	r.GET("/health/live", HandleLiveness(d.StartTime))
	r.GET("/health/ready", HandleReadiness(d.DB, d.Objects))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if d.Hub != nil {
		r.GET("/ws", HandleRealtime(d.Hub, d.DB, d.Issuer, d.Log))
	}

	v1 := r.Group("/api/v1")
	requireAuth := middleware.RequireAuth(d.Issuer)
	editor := middleware.RequireRole(models.RoleEditor)
	admin := middleware.RequireRole(models.RoleAdmin)

	authGroup := v1.Group("/auth")
	authGroup.Use(middleware.RateLimit(middleware.NewIPRateLimiter(d.AuthPerMinute)))
	{
		authGroup.POST("/register", HandleRegister(d.Auth, d.Cookies))
		authGroup.POST("/login", HandleLogin(d.Auth, d.Cookies))
		authGroup.POST("/refresh", HandleRefresh(d.Auth, d.Cookies))
		authGroup.POST("/logout", HandleLogout(d.Auth, d.Cookies))
		authGroup.GET("/me", requireAuth, HandleMe(d.Auth))
	}

	publicGroup := v1.Group("/public")
	publicGroup.Use(middleware.RateLimit(middleware.NewIPRateLimiter(d.PublicPerMinute)))
	publicGroup.Use(middleware.AttachPublicAccess(d.Issuer))
	{
		publicGroup.GET("/meetings/:slug", HandlePublicMeeting(d.Public))
		publicGroup.POST("/meetings/:slug/verify", HandleVerifyMeetingPassword(d.Public, d.Cookies))
		publicGroup.GET("/files/:fileId/access-url", HandlePublicFileAccessURL(d.Public))
	}

	member := v1.Group("")
	member.Use(requireAuth)
	{
		member.GET("/meetings", HandleListMeetings(d.Meetings))
		member.POST("/meetings", editor, HandleCreateMeeting(d.Meetings))
		member.GET("/meetings/:meetingId", HandleGetMeeting(d.Meetings))
		member.PATCH("/meetings/:meetingId", editor, HandlePatchMeeting(d.Meetings))
		member.DELETE("/meetings/:meetingId", admin, HandleDeleteMeeting(d.Meetings))

		member.POST("/files/presign-upload", editor, HandlePresignUpload(d.Files))
		member.POST("/files/:fileId/complete", editor, HandleCompleteUpload(d.Files))
		member.GET("/files/:fileId/access-url", HandleFileAccessURL(d.Files))

		member.GET("/organization", HandleGetOrganization(d.Organizations))
		member.PATCH("/organization", admin, HandlePatchOrganization(d.Organizations))
		member.GET("/organization/audit-logs", admin, HandleAuditLogs(d.Organizations))

		member.GET("/analytics/overview", HandleAnalyticsOverview(d.Analytics))
	}

	return r
}
