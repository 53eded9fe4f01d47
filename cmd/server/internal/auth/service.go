// Package auth 账户注册、登录与刷新令牌轮换
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
	"github.com/omniqr/scansuite/pkg/metrics"
)

// RegisterInput 注册请求
type RegisterInput struct {
	Name     string `json:"name" binding:"required,min=2,max=120"`
	Email    string `json:"email" binding:"required,email,max=320"`
	Password string `json:"password" binding:"required,min=12,max=128"`
}

// LoginInput 登录请求
type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// ClientMeta 请求来源信息，写入会话与审计
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Result 登录态：用户、组织与一对新令牌
type Result struct {
	User         *models.User
	Organization *models.Organization
	SessionID    string
	AccessToken  string
	RefreshToken string
}

// Service 认证服务
type Service struct {
	db         *gorm.DB
	issuer     *tokens.Issuer
	audit      audit.Recorder
	log        *slog.Logger
	bcryptCost int
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService 创建认证服务
func NewService(db *gorm.DB, issuer *tokens.Issuer, recorder audit.Recorder, log *slog.Logger, bcryptCost int) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if bcryptCost == 0 {
		bcryptCost = 12
	}
	return &Service{
		db:         db,
		issuer:     issuer,
		audit:      recorder,
		log:        log.With("component", "auth"),
		bcryptCost: bcryptCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register 创建组织及其 OWNER 用户并登录
func (s *Service) Register(ctx context.Context, in RegisterInput, meta ClientMeta) (*Result, error) {
	email := normalizeEmail(in.Email)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	if count > 0 {
		metrics.RecordAuthEvent("register", "failure")
		return nil, apperr.Conflict("Email already in use")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	org := &models.Organization{
		Name:         strings.TrimSpace(in.Name) + "'s Organization",
		PrimaryColor: models.DefaultPrimaryColor,
	}
	user := &models.User{Email: email, PasswordHash: string(hash), Role: models.RoleOwner}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		user.OrganizationID = org.ID
		return tx.Create(user).Error
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			metrics.RecordAuthEvent("register", "failure")
			return nil, apperr.Conflict("Email already in use")
		}
		return nil, apperr.Internal(err)
	}

	res, err := s.openSession(ctx, user, org, meta)
	if err != nil {
		return nil, err
	}

	metrics.RecordAuthEvent("register", "success")
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: org.ID,
		ActorUserID:    user.ID,
		Action:         audit.ActionRegister,
		EntityType:     "user",
		EntityID:       user.ID,
		Metadata:       map[string]interface{}{"email": email},
	})
	return res, nil
}

// Login 校验邮箱密码并开启新会话
func (s *Service) Login(ctx context.Context, in LoginInput, meta ClientMeta) (*Result, error) {
	email := normalizeEmail(in.Email)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil && !store.IsNotFound(err) {
		return nil, apperr.Internal(err)
	}
	if err != nil {
		// 用户不存在时同样执行一次比对，避免通过耗时区分
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(in.Password))
		metrics.RecordAuthEvent("login", "failure")
		return nil, invalidCredentials()
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		metrics.RecordAuthEvent("login", "failure")
		return nil, invalidCredentials()
	}

	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", user.OrganizationID).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	res, err := s.openSession(ctx, &user, &org, meta)
	if err != nil {
		return nil, err
	}

	metrics.RecordAuthEvent("login", "success")
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: org.ID,
		ActorUserID:    user.ID,
		Action:         audit.ActionLogin,
		EntityType:     "session",
		EntityID:       res.SessionID,
		Metadata:       map[string]interface{}{"ipAddress": meta.IPAddress, "userAgent": meta.UserAgent},
	})
	return res, nil
}

// Refresh 轮换刷新令牌
// 摘要不一致说明令牌已被轮换过（重放或被盗），立即吊销会话
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*Result, error) {
	claims, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		metrics.RecordAuthEvent("refresh", "failure")
		return nil, apperr.Unauthorized()
	}

	now := s.now()
	var session models.Session
	err = s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", claims.SessionID, claims.UserID).
		First(&session).Error
	if err != nil {
		if store.IsNotFound(err) {
			metrics.RecordAuthEvent("refresh", "failure")
			return nil, apperr.Unauthorized()
		}
		return nil, apperr.Internal(err)
	}
	if !session.Usable(now) {
		metrics.RecordAuthEvent("refresh", "failure")
		return nil, apperr.Unauthorized()
	}

	presented := tokens.HashToken(refreshToken)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(session.RefreshTokenHash)) != 1 {
		s.revokeReplayed(ctx, &session, claims.OrganizationID)
		return nil, apperr.Unauthorized()
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", session.UserID).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.Unauthorized()
		}
		return nil, apperr.Internal(err)
	}
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", user.OrganizationID).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	newRefresh, err := s.issuer.IssueRefresh(user.ID, user.OrganizationID, session.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	newAccess, err := s.issuer.IssueAccess(user.ID, user.OrganizationID, user.Role, user.Email)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	// 以旧摘要为条件更新：并发刷新中落败的一方视同重放
	update := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND refresh_token_hash = ? AND revoked_at IS NULL", session.ID, session.RefreshTokenHash).
		Updates(map[string]interface{}{
			"refresh_token_hash": tokens.HashToken(newRefresh),
			"expires_at":         now.Add(s.issuer.RefreshTTL()),
			"ip_address":         meta.IPAddress,
			"user_agent":         truncate(meta.UserAgent, 512),
		})
	if update.Error != nil {
		return nil, apperr.Internal(update.Error)
	}
	if update.RowsAffected == 0 {
		s.revokeReplayed(ctx, &session, user.OrganizationID)
		return nil, apperr.Unauthorized()
	}

	metrics.RecordAuthEvent("refresh", "success")
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: user.OrganizationID,
		ActorUserID:    user.ID,
		Action:         audit.ActionRefresh,
		EntityType:     "session",
		EntityID:       session.ID,
	})

	return &Result{
		User:         &user,
		Organization: &org,
		SessionID:    session.ID,
		AccessToken:  newAccess,
		RefreshToken: newRefresh,
	}, nil
}

func (s *Service) revokeReplayed(ctx context.Context, session *models.Session, organizationID string) {
	now := s.now()
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", session.ID).
		Update("revoked_at", now).Error
	if err != nil {
		s.log.Error("session_revoke_failed", "session_id", session.ID, "error", err)
	}

	metrics.RecordAuthEvent("refresh", "replay")
	s.log.Warn("refresh_token_replay", "session_id", session.ID, "user_id", session.UserID)
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: organizationID,
		ActorUserID:    session.UserID,
		Action:         audit.ActionRefreshReplay,
		EntityType:     "session",
		EntityID:       session.ID,
	})
}

// Logout 吊销令牌对应的会话；令牌无效时静默成功
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	claims, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return
	}

	err = s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", claims.SessionID, claims.UserID).
		Update("revoked_at", s.now()).Error
	if err != nil {
		s.log.Warn("logout_revoke_failed", "session_id", claims.SessionID, "error", err)
		return
	}

	metrics.RecordAuthEvent("logout", "success")
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: claims.OrganizationID,
		ActorUserID:    claims.UserID,
		Action:         audit.ActionLogout,
		EntityType:     "session",
		EntityID:       claims.SessionID,
	})
}

// Me 当前用户及其组织
func (s *Service) Me(ctx context.Context, userID, organizationID string) (*models.User, *models.Organization, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", userID, organizationID).First(&user).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, apperr.Unauthorized()
		}
		return nil, nil, apperr.Internal(err)
	}
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", organizationID).Error; err != nil {
		return nil, nil, apperr.Internal(err)
	}
	return &user, &org, nil
}

// openSession 先生成会话 ID 并签发刷新令牌，再以令牌摘要一次性写入会话
func (s *Service) openSession(ctx context.Context, user *models.User, org *models.Organization, meta ClientMeta) (*Result, error) {
	sessionID := uuid.NewString()
	refresh, err := s.issuer.IssueRefresh(user.ID, user.OrganizationID, sessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	access, err := s.issuer.IssueAccess(user.ID, user.OrganizationID, user.Role, user.Email)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	session := &models.Session{
		Base:             models.Base{ID: sessionID},
		UserID:           user.ID,
		RefreshTokenHash: tokens.HashToken(refresh),
		ExpiresAt:        s.now().Add(s.issuer.RefreshTTL()),
		IPAddress:        meta.IPAddress,
		UserAgent:        truncate(meta.UserAgent, 512),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("create session: %w", err))
	}

	return &Result{
		User:         user,
		Organization: org,
		SessionID:    sessionID,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), s.bcryptCost)
		if err != nil {
			h = []byte{}
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func invalidCredentials() error {
	return apperr.New(apperr.KindUnauthorized, "Invalid credentials")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// truncate 截断到不超过 n 字节，不切断多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
