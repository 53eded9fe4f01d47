// Package public 公开会议落地页、密码验证与公开文件下载
package public

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/access"
	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/files"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
	"github.com/omniqr/scansuite/pkg/metrics"
)

// Visitor 匿名访问者的来源信息
type Visitor struct {
	IPAddress string
	UserAgent string
}

// VerifyInput 密码验证请求
type VerifyInput struct {
	Password string `json:"password"`
}

// MeetingView 公开可见的会议字段
type MeetingView struct {
	ID          string            `json:"id"`
	Slug        string            `json:"slug"`
	Title       string            `json:"title"`
	Description *string           `json:"description"`
	ExpiresAt   *time.Time        `json:"expiresAt"`
	AccessType  models.AccessType `json:"accessType"`
}

// OrganizationView 落地页品牌信息
type OrganizationView struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	LogoURL      *string `json:"logoUrl"`
	PrimaryColor string  `json:"primaryColor"`
}

// FileView 落地页文件，只含最新 READY 版本
type FileView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Landing 落地页数据
type Landing struct {
	Meeting      MeetingView      `json:"meeting"`
	Organization OrganizationView `json:"organization"`
	ScanCount    int64            `json:"scanCount"`
	Files        []FileView       `json:"files"`
}

// Service 公开访问服务
type Service struct {
	db       *gorm.DB
	issuer   *tokens.Issuer
	ledger   *files.Ledger
	audit    audit.Recorder
	notifier realtime.Notifier
	log      *slog.Logger
	now      func() time.Time
}

// NewService 创建公开访问服务
func NewService(db *gorm.DB, issuer *tokens.Issuer, ledger *files.Ledger, recorder audit.Recorder, notifier realtime.Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		db:       db,
		issuer:   issuer,
		ledger:   ledger,
		audit:    recorder,
		notifier: notifier,
		log:      log.With("component", "public"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ClassifyDevice 根据 User-Agent 粗分设备类别
func ClassifyDevice(userAgent string) models.Device {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "android"), strings.Contains(ua, "iphone"), strings.Contains(ua, "mobile"):
		return models.DeviceMobile
	case strings.Contains(ua, "windows"), strings.Contains(ua, "macintosh"), strings.Contains(ua, "linux"):
		return models.DeviceDesktop
	}
	return models.DeviceOther
}

// Lookup 按 slug 打开落地页；持有该会议的公开令牌时绕过密码
func (s *Service) Lookup(ctx context.Context, slug string, claims *tokens.PublicClaims, visitor Visitor) (*Landing, error) {
	var m models.Meeting
	if err := s.db.WithContext(ctx).Preload("AccessPolicy").Where("slug = ?", slug).First(&m).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("Meeting")
		}
		return nil, apperr.Internal(err)
	}
	now := s.now()
	if err := checkAvailable(&m, now); err != nil {
		return nil, err
	}

	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", m.OrganizationID).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	bypass := claims != nil && claims.MeetingID == m.ID && claims.OrganizationID == m.OrganizationID
	decision := access.Evaluate(m.AccessPolicy, now, bypass)
	if !decision.Allowed {
		if decision.RequiresPassword {
			return nil, apperr.PasswordRequired(map[string]interface{}{
				"meeting":          meetingView(&m),
				"organization":     organizationView(&org),
				"requiresPassword": true,
			})
		}
		return nil, apperr.Forbidden(decision.Reason)
	}

	scan := &models.ScanEvent{
		OrganizationID: m.OrganizationID,
		MeetingID:      m.ID,
		IPAddress:      visitor.IPAddress,
		Device:         ClassifyDevice(visitor.UserAgent),
		ScannedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(scan).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	metrics.RecordScan()

	var scanCount int64
	if err := s.db.WithContext(ctx).Model(&models.ScanEvent{}).Where("meeting_id = ?", m.ID).Count(&scanCount).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	s.notifier.Broadcast(ctx, m.ID, realtime.EventScanUpdated, map[string]interface{}{
		"meetingId": m.ID,
		"scanCount": scanCount,
		"timestamp": now.Format(time.RFC3339),
	})

	readyFiles, err := s.readyFiles(ctx, m.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &Landing{
		Meeting:      meetingView(&m),
		Organization: organizationView(&org),
		ScanCount:    scanCount,
		Files:        readyFiles,
	}, nil
}

func (s *Service) readyFiles(ctx context.Context, meetingID string) ([]FileView, error) {
	var rows []models.File
	if err := s.db.WithContext(ctx).Where("meeting_id = ?", meetingID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, f := range rows {
		ids = append(ids, f.ID)
	}
	latest, err := files.LatestVersions(ctx, s.db, ids, true)
	if err != nil {
		return nil, err
	}

	out := make([]FileView, 0, len(latest))
	for _, f := range rows {
		v, ok := latest[f.ID]
		if !ok {
			continue
		}
		out = append(out, FileView{
			ID:        f.ID,
			Name:      f.Name,
			MimeType:  v.MimeType,
			Size:      v.Size,
			Version:   v.Version,
			CreatedAt: f.CreatedAt,
			UpdatedAt: v.UpdatedAt,
		})
	}
	return out, nil
}

// Verify 校验会议密码，成功后签发该会议的公开访问令牌
func (s *Service) Verify(ctx context.Context, slug string, in VerifyInput, visitor Visitor) (string, error) {
	if in.Password == "" {
		return "", apperr.Validation("Password is required", map[string]string{"password": "required"})
	}

	var m models.Meeting
	if err := s.db.WithContext(ctx).Preload("AccessPolicy").Where("slug = ?", slug).First(&m).Error; err != nil {
		if store.IsNotFound(err) {
			return "", apperr.NotFound("Meeting")
		}
		return "", apperr.Internal(err)
	}
	now := s.now()
	if err := checkAvailable(&m, now); err != nil {
		return "", err
	}

	policy := m.AccessPolicy
	if policy == nil || policy.AccessType != models.AccessPassword || policy.PasswordHash == nil {
		return "", apperr.Validation("Meeting is not password protected", nil)
	}
	if bcrypt.CompareHashAndPassword([]byte(*policy.PasswordHash), []byte(in.Password)) != nil {
		metrics.RecordAuthEvent("public_verify", "failure")
		return "", apperr.New(apperr.KindUnauthorized, "Invalid password")
	}

	// 时间窗等其余规则仍需通过
	if decision := access.Evaluate(policy, now, true); !decision.Allowed {
		return "", apperr.Forbidden(decision.Reason)
	}

	token, err := s.issuer.IssuePublic(m.ID, m.OrganizationID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	metrics.RecordAuthEvent("public_verify", "success")
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: m.OrganizationID,
		MeetingID:      m.ID,
		Action:         audit.ActionPublicVerified,
		EntityType:     "meeting",
		EntityID:       m.ID,
		Metadata:       map[string]interface{}{"ipAddress": visitor.IPAddress},
	})
	return token, nil
}

// FileAccessURL 公开文件下载 URL
// 持有令牌时文件必须属于令牌的会议与组织；无令牌时会议策略必须在不绕过密码的情况下放行
func (s *Service) FileAccessURL(ctx context.Context, fileID string, claims *tokens.PublicClaims, visitor Visitor) (*files.DownloadResult, error) {
	q := s.db.WithContext(ctx).Where("id = ?", fileID)
	if claims != nil {
		q = q.Where("meeting_id = ? AND organization_id = ?", claims.MeetingID, claims.OrganizationID)
	}
	var file models.File
	if err := q.First(&file).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("File")
		}
		return nil, apperr.Internal(err)
	}

	var m models.Meeting
	if err := s.db.WithContext(ctx).Preload("AccessPolicy").First(&m, "id = ?", file.MeetingID).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("File")
		}
		return nil, apperr.Internal(err)
	}
	now := s.now()
	if err := checkAvailable(&m, now); err != nil {
		return nil, err
	}

	decision := access.Evaluate(m.AccessPolicy, now, claims != nil)
	if !decision.Allowed {
		if claims == nil {
			return nil, apperr.Unauthorized()
		}
		return nil, apperr.Forbidden(decision.Reason)
	}

	result, err := s.ledger.PublicDownloadURL(ctx, m.OrganizationID, m.ID, file.ID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: m.OrganizationID,
		MeetingID:      m.ID,
		Action:         audit.ActionPublicFileAccess,
		EntityType:     "file",
		EntityID:       file.ID,
		Metadata: map[string]interface{}{
			"version":   result.Version,
			"ipAddress": visitor.IPAddress,
		},
	})
	return result, nil
}

// checkAvailable 已过期返回 410，草稿或归档返回 403；每次按 expiresAt 重新计算
func checkAvailable(m *models.Meeting, now time.Time) error {
	if m.IsExpired(now) {
		return apperr.Gone("Meeting has expired")
	}
	if m.Status != models.MeetingActive {
		return apperr.Forbidden("Meeting is not publicly available")
	}
	return nil
}

func meetingView(m *models.Meeting) MeetingView {
	accessType := models.AccessPublic
	if m.AccessPolicy != nil {
		accessType = m.AccessPolicy.AccessType
	}
	return MeetingView{
		ID:          m.ID,
		Slug:        m.Slug,
		Title:       m.Title,
		Description: m.Description,
		ExpiresAt:   m.ExpiresAt,
		AccessType:  accessType,
	}
}

func organizationView(o *models.Organization) OrganizationView {
	return OrganizationView{
		ID:           o.ID,
		Name:         o.Name,
		LogoURL:      o.LogoURL,
		PrimaryColor: o.PrimaryColor,
	}
}
