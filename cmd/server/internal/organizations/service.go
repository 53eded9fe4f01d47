// Package organizations 组织品牌设置与审计日志查询
package organizations

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{6})$`)

// NullableString 区分字段缺省、显式 null 与字符串值
type NullableString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON 实现 json.Unmarshaler
func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(data, []byte("null")) {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

// PatchInput 组织更新
type PatchInput struct {
	Name         *string        `json:"name" binding:"omitempty,min=2,max=120"`
	PrimaryColor *string        `json:"primaryColor"`
	LogoURL      NullableString `json:"logoUrl"`
}

// AuditLister 审计日志读取
type AuditLister interface {
	List(ctx context.Context, organizationID string, limit int, before time.Time) ([]models.AuditLog, error)
}

// Service 组织服务
type Service struct {
	db     *gorm.DB
	audit  audit.Recorder
	lister AuditLister
	log    *slog.Logger
}

// NewService 创建组织服务
func NewService(db *gorm.DB, recorder audit.Recorder, lister AuditLister, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{db: db, audit: recorder, lister: lister, log: log.With("component", "organizations")}
}

// Get 读取组织
func (s *Service) Get(ctx context.Context, organizationID string) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", organizationID).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("Organization")
		}
		return nil, apperr.Internal(err)
	}
	return &org, nil
}

// Patch 更新名称、主题色或 logo；logoUrl 为 null 时清除
func (s *Service) Patch(ctx context.Context, organizationID, userID string, in PatchInput) (*models.Organization, error) {
	fields := map[string]string{}
	updates := map[string]interface{}{}
	var changed []string

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if len(name) < 2 {
			fields["name"] = "min"
		}
		updates["name"] = name
		changed = append(changed, "name")
	}
	if in.PrimaryColor != nil {
		if !hexColor.MatchString(*in.PrimaryColor) {
			fields["primaryColor"] = "hexcolor"
		}
		updates["primary_color"] = *in.PrimaryColor
		changed = append(changed, "primaryColor")
	}
	if in.LogoURL.Set {
		if in.LogoURL.Value != nil && !validURL(*in.LogoURL.Value) {
			fields["logoUrl"] = "url"
		}
		updates["logo_url"] = in.LogoURL.Value
		changed = append(changed, "logoUrl")
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("validation failed", fields)
	}

	org, err := s.Get(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return org, nil
	}
	if err := s.db.WithContext(ctx).Model(org).Updates(updates).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	s.audit.Record(ctx, audit.Entry{
		OrganizationID: organizationID,
		ActorUserID:    userID,
		Action:         audit.ActionOrgUpdate,
		EntityType:     "organization",
		EntityID:       organizationID,
		Metadata:       map[string]interface{}{"fields": changed},
	})
	return s.Get(ctx, organizationID)
}

// AuditLogs 按时间倒序分页读取审计日志，before 为零值时从最新开始
func (s *Service) AuditLogs(ctx context.Context, organizationID string, limit int, before time.Time) ([]models.AuditLog, error) {
	rows, err := s.lister.List(ctx, organizationID, limit, before)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return rows, nil
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
