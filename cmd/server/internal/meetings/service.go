// Package meetings 会议及其访问策略的增删改查
package meetings

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/files"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
)

const maxSlugAttempts = 3

// PolicyInput 访问策略输入
type PolicyInput struct {
	AccessType     models.AccessType `json:"accessType" binding:"omitempty,oneof=PUBLIC PASSWORD PRIVATE"`
	Password       *string           `json:"password" binding:"omitempty,min=8,max=128"`
	AccessStartsAt *time.Time        `json:"accessStartsAt"`
	AccessEndsAt   *time.Time        `json:"accessEndsAt"`
	OneTimeAccess  *bool             `json:"oneTimeAccess"`
	ViewOnly       *bool             `json:"viewOnly"`
}

// CreateInput 创建会议
type CreateInput struct {
	Title        string       `json:"title" binding:"required,min=2,max=160"`
	Description  *string      `json:"description" binding:"omitempty,max=2000"`
	StartsAt     *time.Time   `json:"startsAt"`
	ExpiresAt    *time.Time   `json:"expiresAt"`
	AccessPolicy *PolicyInput `json:"accessPolicy"`
}

// PatchInput 部分更新，nil 字段保持不变
type PatchInput struct {
	Title        *string               `json:"title" binding:"omitempty,min=2,max=160"`
	Description  *string               `json:"description" binding:"omitempty,max=2000"`
	Status       *models.MeetingStatus `json:"status" binding:"omitempty,oneof=DRAFT ACTIVE EXPIRED ARCHIVED"`
	StartsAt     *time.Time            `json:"startsAt"`
	ExpiresAt    *time.Time            `json:"expiresAt"`
	AccessPolicy *PolicyInput          `json:"accessPolicy"`
}

// Summary 列表项
type Summary struct {
	ID          string               `json:"id"`
	Slug        string               `json:"slug"`
	Title       string               `json:"title"`
	Description *string              `json:"description"`
	Status      models.MeetingStatus `json:"status"`
	AccessType  models.AccessType    `json:"accessType"`
	CreatedAt   time.Time            `json:"createdAt"`
	ExpiresAt   *time.Time           `json:"expiresAt"`
	FileCount   int64                `json:"fileCount"`
	ScanCount   int64                `json:"scanCount"`
}

// PolicyView 对外展示的访问策略，不含密码哈希
type PolicyView struct {
	AccessType     models.AccessType `json:"accessType"`
	HasPassword    bool              `json:"hasPassword"`
	AccessStartsAt *time.Time        `json:"accessStartsAt"`
	AccessEndsAt   *time.Time        `json:"accessEndsAt"`
	OneTimeAccess  bool              `json:"oneTimeAccess"`
	ViewOnly       bool              `json:"viewOnly"`
}

// VersionView 文件最新版本摘要
type VersionView struct {
	ID        string                   `json:"id"`
	Version   int                      `json:"version"`
	Status    models.FileVersionStatus `json:"status"`
	CreatedAt time.Time                `json:"createdAt"`
}

// FileView 会议详情中的文件
type FileView struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	MimeType      string       `json:"mimeType"`
	Size          int64        `json:"size"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	LatestVersion *VersionView `json:"latestVersion"`
}

// Detail 会议详情
type Detail struct {
	Summary
	StartsAt     *time.Time  `json:"startsAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	AccessPolicy *PolicyView `json:"accessPolicy"`
	Files        []FileView  `json:"files"`
}

// Service 会议服务
type Service struct {
	db         *gorm.DB
	audit      audit.Recorder
	notifier   realtime.Notifier
	log        *slog.Logger
	bcryptCost int
	now        func() time.Time
}

// NewService 创建会议服务
func NewService(db *gorm.DB, recorder audit.Recorder, notifier realtime.Notifier, log *slog.Logger, bcryptCost int) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if bcryptCost == 0 {
		bcryptCost = 12
	}
	return &Service{
		db:         db,
		audit:      recorder,
		notifier:   notifier,
		log:        log.With("component", "meetings"),
		bcryptCost: bcryptCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// List 组织内全部会议，按创建时间倒序，状态为惰性计算的展示状态
func (s *Service) List(ctx context.Context, organizationID string) ([]Summary, error) {
	var rows []models.Meeting
	if err := s.db.WithContext(ctx).
		Preload("AccessPolicy").
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.ID)
	}
	fileCounts, err := s.countBy(ctx, &models.File{}, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	scanCounts, err := s.countBy(ctx, &models.ScanEvent{}, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := s.now()
	out := make([]Summary, 0, len(rows))
	for i := range rows {
		sum := s.summary(&rows[i], now)
		sum.FileCount = fileCounts[rows[i].ID]
		sum.ScanCount = scanCounts[rows[i].ID]
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) countBy(ctx context.Context, model interface{}, meetingIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(meetingIDs))
	if len(meetingIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		MeetingID string
		N         int64
	}
	if err := s.db.WithContext(ctx).Model(model).
		Select("meeting_id, COUNT(*) AS n").
		Where("meeting_id IN ?", meetingIDs).
		Group("meeting_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.MeetingID] = r.N
	}
	return counts, nil
}

func (s *Service) summary(m *models.Meeting, now time.Time) Summary {
	accessType := models.AccessPublic
	if m.AccessPolicy != nil {
		accessType = m.AccessPolicy.AccessType
	}
	return Summary{
		ID:          m.ID,
		Slug:        m.Slug,
		Title:       m.Title,
		Description: m.Description,
		Status:      m.EffectiveStatus(now),
		AccessType:  accessType,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
	}
}

// Get 会议详情，含策略与每个文件的最新版本（任意状态）
func (s *Service) Get(ctx context.Context, organizationID, meetingID string) (*Detail, error) {
	m, err := s.load(ctx, s.db, organizationID, meetingID)
	if err != nil {
		return nil, err
	}

	var fileRows []models.File
	if err := s.db.WithContext(ctx).
		Where("meeting_id = ? AND organization_id = ?", m.ID, organizationID).
		Order("created_at ASC").
		Find(&fileRows).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	fileIDs := make([]string, 0, len(fileRows))
	for _, f := range fileRows {
		fileIDs = append(fileIDs, f.ID)
	}
	latest, err := files.LatestVersions(ctx, s.db, fileIDs, false)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	var scans int64
	if err := s.db.WithContext(ctx).Model(&models.ScanEvent{}).Where("meeting_id = ?", m.ID).Count(&scans).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	d := &Detail{
		Summary:   s.summary(m, s.now()),
		StartsAt:  m.StartsAt,
		UpdatedAt: m.UpdatedAt,
		Files:     make([]FileView, 0, len(fileRows)),
	}
	d.FileCount = int64(len(fileRows))
	d.ScanCount = scans
	if p := m.AccessPolicy; p != nil {
		d.AccessPolicy = &PolicyView{
			AccessType:     p.AccessType,
			HasPassword:    p.PasswordHash != nil,
			AccessStartsAt: p.AccessStartsAt,
			AccessEndsAt:   p.AccessEndsAt,
			OneTimeAccess:  p.OneTimeAccess,
			ViewOnly:       p.ViewOnly,
		}
	}
	for _, f := range fileRows {
		fv := FileView{
			ID:        f.ID,
			Name:      f.Name,
			MimeType:  f.MimeType,
			Size:      f.Size,
			CreatedAt: f.CreatedAt,
			UpdatedAt: f.UpdatedAt,
		}
		if v, ok := latest[f.ID]; ok {
			fv.LatestVersion = &VersionView{ID: v.ID, Version: v.Version, Status: v.Status, CreatedAt: v.CreatedAt}
		}
		d.Files = append(d.Files, fv)
	}
	return d, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, organizationID, meetingID string) (*models.Meeting, error) {
	var m models.Meeting
	if err := db.WithContext(ctx).
		Preload("AccessPolicy").
		Where("id = ? AND organization_id = ?", meetingID, organizationID).
		First(&m).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("Meeting")
		}
		return nil, apperr.Internal(err)
	}
	return &m, nil
}

// Create 创建会议；新会议默认 ACTIVE，slug 冲突时重新生成
func (s *Service) Create(ctx context.Context, organizationID, userID string, in CreateInput) (*Detail, error) {
	if err := validateWindow(in.StartsAt, in.ExpiresAt, "expiresAt"); err != nil {
		return nil, err
	}
	policy, err := s.buildPolicy(nil, in.AccessPolicy)
	if err != nil {
		return nil, err
	}

	var m *models.Meeting
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		m = &models.Meeting{
			OrganizationID: organizationID,
			CreatedByID:    userID,
			Slug:           NewSlug(in.Title),
			Title:          strings.TrimSpace(in.Title),
			Description:    in.Description,
			Status:         models.MeetingActive,
			StartsAt:       utc(in.StartsAt),
			ExpiresAt:      utc(in.ExpiresAt),
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			if policy != nil {
				p := *policy
				p.MeetingID = m.ID
				if err := tx.Create(&p).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil || !store.IsUniqueViolation(err) {
			break
		}
		s.log.Debug("meeting_slug_conflict", "slug", m.Slug, "attempt", attempt)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	accessType := models.AccessPublic
	if policy != nil {
		accessType = policy.AccessType
	}
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: organizationID,
		ActorUserID:    userID,
		MeetingID:      m.ID,
		Action:         audit.ActionMeetingCreate,
		EntityType:     "meeting",
		EntityID:       m.ID,
		Metadata:       map[string]interface{}{"slug": m.Slug, "accessType": accessType},
	})
	return s.Get(ctx, organizationID, m.ID)
}

// Patch 部分更新会议及其策略；策略不存在时创建
func (s *Service) Patch(ctx context.Context, organizationID, userID, meetingID string, in PatchInput) (*Detail, error) {
	var changed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.load(ctx, tx, organizationID, meetingID)
		if err != nil {
			return err
		}

		startsAt, expiresAt := m.StartsAt, m.ExpiresAt
		if in.StartsAt != nil {
			startsAt = in.StartsAt
		}
		if in.ExpiresAt != nil {
			expiresAt = in.ExpiresAt
		}
		if err := validateWindow(startsAt, expiresAt, "expiresAt"); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if in.Title != nil {
			updates["title"] = strings.TrimSpace(*in.Title)
			changed = append(changed, "title")
		}
		if in.Description != nil {
			updates["description"] = *in.Description
			changed = append(changed, "description")
		}
		if in.Status != nil {
			updates["status"] = *in.Status
			changed = append(changed, "status")
		}
		if in.StartsAt != nil {
			updates["starts_at"] = utc(in.StartsAt)
			changed = append(changed, "startsAt")
		}
		if in.ExpiresAt != nil {
			updates["expires_at"] = utc(in.ExpiresAt)
			changed = append(changed, "expiresAt")
		}
		if len(updates) > 0 {
			updates["updated_at"] = s.now()
			if err := tx.Model(&models.Meeting{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
				return err
			}
		}

		if in.AccessPolicy == nil {
			return nil
		}
		policy, err := s.buildPolicy(m.AccessPolicy, in.AccessPolicy)
		if err != nil {
			return err
		}
		changed = append(changed, "accessPolicy")
		if m.AccessPolicy == nil {
			policy.MeetingID = m.ID
			return tx.Create(policy).Error
		}
		return tx.Model(&models.AccessPolicy{}).Where("id = ?", m.AccessPolicy.ID).Updates(map[string]interface{}{
			"access_type":      policy.AccessType,
			"password_hash":    policy.PasswordHash,
			"access_starts_at": policy.AccessStartsAt,
			"access_ends_at":   policy.AccessEndsAt,
			"one_time_access":  policy.OneTimeAccess,
			"view_only":        policy.ViewOnly,
			"updated_at":       s.now(),
		}).Error
	})
	if err != nil {
		return nil, apperr.Ensure(err)
	}

	s.audit.Record(ctx, audit.Entry{
		OrganizationID: organizationID,
		ActorUserID:    userID,
		MeetingID:      meetingID,
		Action:         audit.ActionMeetingUpdate,
		EntityType:     "meeting",
		EntityID:       meetingID,
		Metadata:       map[string]interface{}{"fields": changed},
	})
	s.notifier.Broadcast(ctx, meetingID, realtime.EventMeetingUpdated, map[string]interface{}{
		"meetingId": meetingID,
		"reason":    "meeting.patched",
	})
	return s.Get(ctx, organizationID, meetingID)
}

// Delete 删除会议并级联删除策略、文件、版本与扫码记录
func (s *Service) Delete(ctx context.Context, organizationID, userID, meetingID string) error {
	var slug string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.load(ctx, tx, organizationID, meetingID)
		if err != nil {
			return err
		}
		slug = m.Slug

		fileIDs := tx.Model(&models.File{}).Select("id").Where("meeting_id = ?", m.ID)
		if err := tx.Where("file_id IN (?)", fileIDs).Delete(&models.FileVersion{}).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{&models.File{}, &models.ScanEvent{}, &models.AccessPolicy{}} {
			if err := tx.Where("meeting_id = ?", m.ID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Meeting{}, "id = ?", m.ID).Error
	})
	if err != nil {
		return apperr.Ensure(err)
	}

	s.audit.Record(ctx, audit.Entry{
		OrganizationID: organizationID,
		ActorUserID:    userID,
		Action:         audit.ActionMeetingDelete,
		EntityType:     "meeting",
		EntityID:       meetingID,
		Metadata:       map[string]interface{}{"slug": slug},
	})
	s.notifier.Broadcast(ctx, meetingID, realtime.EventMeetingUpdated, map[string]interface{}{
		"meetingId": meetingID,
		"reason":    "meeting.deleted",
	})
	return nil
}

// buildPolicy 合并已有策略与输入；passwordHash 当且仅当 accessType 为 PASSWORD 时存在
func (s *Service) buildPolicy(existing *models.AccessPolicy, in *PolicyInput) (*models.AccessPolicy, error) {
	if in == nil {
		return nil, nil
	}

	p := &models.AccessPolicy{AccessType: models.AccessPublic}
	if existing != nil {
		p.AccessType = existing.AccessType
		p.PasswordHash = existing.PasswordHash
		p.AccessStartsAt = existing.AccessStartsAt
		p.AccessEndsAt = existing.AccessEndsAt
		p.OneTimeAccess = existing.OneTimeAccess
		p.ViewOnly = existing.ViewOnly
	}
	if in.AccessType != "" {
		p.AccessType = in.AccessType
	}
	if in.AccessStartsAt != nil {
		p.AccessStartsAt = utc(in.AccessStartsAt)
	}
	if in.AccessEndsAt != nil {
		p.AccessEndsAt = utc(in.AccessEndsAt)
	}
	if in.OneTimeAccess != nil {
		p.OneTimeAccess = *in.OneTimeAccess
	}
	if in.ViewOnly != nil {
		p.ViewOnly = *in.ViewOnly
	}
	if err := validateWindow(p.AccessStartsAt, p.AccessEndsAt, "accessPolicy.accessEndsAt"); err != nil {
		return nil, err
	}

	if p.AccessType != models.AccessPassword {
		p.PasswordHash = nil
		return p, nil
	}
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), s.bcryptCost)
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("hash meeting password: %w", err))
		}
		h := string(hash)
		p.PasswordHash = &h
	}
	if p.PasswordHash == nil {
		return nil, apperr.Validation("validation failed", map[string]string{
			"accessPolicy.password": "required when accessType is PASSWORD",
		})
	}
	return p, nil
}

func validateWindow(start, end *time.Time, field string) error {
	if start != nil && end != nil && !end.After(*start) {
		return apperr.Validation("validation failed", map[string]string{field: "must be after start"})
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
