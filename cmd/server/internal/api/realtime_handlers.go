package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/access"
	"github.com/omniqr/scansuite/cmd/server/internal/middleware"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
)

// socketIdentity 连接建立时解析出的凭证，二者都可能为空
type socketIdentity struct {
	access *tokens.AccessClaims
	public *tokens.PublicClaims
}

// credential 先读 cookie，再读查询参数
func credential(c *gin.Context, cookie, query string) string {
	if v, err := c.Cookie(cookie); err == nil && v != "" {
		return v
	}
	return c.Query(query)
}

func resolveSocketIdentity(c *gin.Context, issuer *tokens.Issuer) socketIdentity {
	var id socketIdentity
	if raw := credential(c, middleware.AccessCookie, "token"); raw != "" {
		if claims, err := issuer.VerifyAccess(raw); err == nil {
			id.access = claims
		}
	}
	if raw := credential(c, middleware.PublicCookie, "publicToken"); raw != "" {
		if claims, err := issuer.VerifyPublic(raw); err == nil {
			id.public = claims
		}
	}
	return id
}

// joinAuthorizer 组织成员可加入本组织会议；公开令牌可加入其会议；
// 其余会议按匿名规则处理，只能加入无需绕过即可访问的公开会议
func joinAuthorizer(db *gorm.DB, id socketIdentity, now func() time.Time) realtime.Authorizer {
	return func(ctx context.Context, meetingID string) bool {
		var m models.Meeting
		if err := db.WithContext(ctx).Preload("AccessPolicy").First(&m, "id = ?", meetingID).Error; err != nil {
			return false
		}
		if id.access != nil && id.access.OrganizationID == m.OrganizationID {
			return true
		}
		if id.public != nil && id.public.MeetingID == m.ID && id.public.OrganizationID == m.OrganizationID {
			return true
		}
		t := now()
		if m.IsExpired(t) || m.Status != models.MeetingActive {
			return false
		}
		return access.Evaluate(m.AccessPolicy, t, false).Allowed
	}
}

// HandleRealtime GET /ws
func HandleRealtime(hub *realtime.Hub, db *gorm.DB, issuer *tokens.Issuer, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := resolveSocketIdentity(c, issuer)
		authorize := joinAuthorizer(db, id, func() time.Time { return time.Now().UTC() })
		if err := hub.Serve(c.Writer, c.Request, authorize); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("realtime connection closed", "rid", middleware.RequestID(c), "error", err)
		}
	}
}
