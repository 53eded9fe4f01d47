// Package files 文件版本台账：两阶段上传（presign → complete）与下载 URL 签发
package files

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/storage"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
	"github.com/omniqr/scansuite/pkg/metrics"
)

// maxReserveAttempts 并发 presign 撞上唯一约束时的重试次数
const maxReserveAttempts = 3

// PresignInput presign 请求
type PresignInput struct {
	MeetingID string `json:"meetingId" binding:"required,uuid"`
	FileName  string `json:"fileName" binding:"required,min=1,max=255"`
	MimeType  string `json:"mimeType" binding:"required,min=1,max=140"`
	Size      int64  `json:"size" binding:"required,gt=0"`
	SHA256    string `json:"sha256" binding:"required,len=64,hexadecimal"`
}

// CompleteInput complete 请求
type CompleteInput struct {
	VersionID string `json:"versionId" binding:"required,uuid"`
	Size      int64  `json:"size" binding:"required,gt=0"`
	MimeType  string `json:"mimeType" binding:"required,min=1,max=140"`
	SHA256    string `json:"sha256" binding:"required,len=64,hexadecimal"`
}

// UploadTarget 客户端直传目标
type UploadTarget struct {
	Method           string `json:"method"`
	URL              string `json:"url"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

// PresignResult presign 响应
type PresignResult struct {
	FileID    string       `json:"fileId"`
	VersionID string       `json:"versionId"`
	Version   int          `json:"version"`
	ObjectKey string       `json:"objectKey"`
	Upload    UploadTarget `json:"upload"`
}

// CompleteResult complete 响应
type CompleteResult struct {
	FileID    string                   `json:"fileId"`
	VersionID string                   `json:"versionId"`
	Version   int                      `json:"version"`
	Status    models.FileVersionStatus `json:"status"`
}

// DownloadResult 下载 URL
type DownloadResult struct {
	FileID           string `json:"fileId"`
	FileName         string `json:"fileName"`
	MimeType         string `json:"mimeType"`
	Version          int    `json:"version"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
	URL              string `json:"url"`
}

// Config 台账参数
type Config struct {
	MaxFileSize    int64
	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration
}

// Ledger 文件版本台账
type Ledger struct {
	db       *gorm.DB
	objects  storage.ObjectStore
	audit    audit.Recorder
	notifier realtime.Notifier
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewLedger 创建台账
func NewLedger(db *gorm.DB, objects storage.ObjectStore, recorder audit.Recorder, notifier realtime.Notifier, log *slog.Logger, cfg Config) *Ledger {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		db:       db,
		objects:  objects,
		audit:    recorder,
		notifier: notifier,
		log:      log.With("component", "files"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Presign 登记一个 PENDING 版本并签发上传 URL
// 查找或创建文件、计算 max(version)+1、插入版本在同一事务内完成；
// (organization_id, meeting_id, name) 与 (file_id, version) 唯一约束兜底并发，冲突时重试
func (l *Ledger) Presign(ctx context.Context, organizationID, userID string, in PresignInput) (*PresignResult, error) {
	if in.Size > l.cfg.MaxFileSize {
		metrics.RecordUpload("presign", "rejected")
		return nil, apperr.TooLarge(fmt.Sprintf("File exceeds max size of %dMB", l.cfg.MaxFileSize/(1024*1024)))
	}

	var meeting models.Meeting
	if err := l.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", in.MeetingID, organizationID).
		First(&meeting).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("Meeting")
		}
		return nil, apperr.Internal(err)
	}

	var (
		file    *models.File
		version *models.FileVersion
		err     error
	)
	for attempt := 1; attempt <= maxReserveAttempts; attempt++ {
		file, version, err = l.reserveVersion(ctx, organizationID, userID, in)
		if err == nil || !store.IsUniqueViolation(err) {
			break
		}
		metrics.RecordUpload("presign", "conflict_retry")
		l.log.Debug("presign_version_conflict", "meeting_id", in.MeetingID, "attempt", attempt)
	}
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Concurrent upload in progress, please retry")
		}
		return nil, apperr.Internal(err)
	}

	uploadURL, err := l.objects.PresignPut(ctx, version.ObjectKey, in.MimeType, in.Size, l.cfg.UploadURLTTL)
	if err != nil {
		l.markFailed(ctx, version.ID)
		return nil, apperr.Unavailable("Object storage unavailable", err)
	}

	metrics.RecordUpload("presign", "success")
	l.audit.Record(ctx, audit.Entry{
		OrganizationID: organizationID,
		ActorUserID:    userID,
		MeetingID:      in.MeetingID,
		Action:         audit.ActionFilePresign,
		EntityType:     "file",
		EntityID:       file.ID,
		Metadata: map[string]interface{}{
			"versionId": version.ID,
			"version":   version.Version,
			"fileName":  in.FileName,
			"size":      in.Size,
		},
	})

	return &PresignResult{
		FileID:    file.ID,
		VersionID: version.ID,
		Version:   version.Version,
		ObjectKey: version.ObjectKey,
		Upload: UploadTarget{
			Method:           "PUT",
			URL:              uploadURL,
			ExpiresInSeconds: int(l.cfg.UploadURLTTL / time.Second),
		},
	}, nil
}

func (l *Ledger) reserveVersion(ctx context.Context, organizationID, userID string, in PresignInput) (*models.File, *models.FileVersion, error) {
	var file models.File
	var version models.FileVersion

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("organization_id = ? AND meeting_id = ? AND name = ?", organizationID, in.MeetingID, in.FileName).
			First(&file).Error
		isNew := store.IsNotFound(err)
		if err != nil && !isNew {
			return err
		}

		next := 1
		if isNew {
			file = models.File{
				Base:           models.Base{ID: uuid.NewString()},
				OrganizationID: organizationID,
				MeetingID:      in.MeetingID,
				Name:           in.FileName,
				MimeType:       in.MimeType,
				Size:           in.Size,
				SHA256:         in.SHA256,
				CreatedByID:    userID,
			}
		} else {
			var maxVersion int
			if err := tx.Model(&models.FileVersion{}).
				Where("file_id = ?", file.ID).
				Select("COALESCE(MAX(version), 0)").
				Scan(&maxVersion).Error; err != nil {
				return err
			}
			next = maxVersion + 1
		}

		objectKey := BuildObjectKey(organizationID, in.MeetingID, file.ID, next, in.FileName)
		if isNew {
			file.ObjectKey = objectKey
			if err := tx.Create(&file).Error; err != nil {
				return err
			}
		} else if err := tx.Model(&file).Update("updated_at", l.now()).Error; err != nil {
			return err
		}

		version = models.FileVersion{
			FileID:      file.ID,
			Version:     next,
			ObjectKey:   objectKey,
			MimeType:    in.MimeType,
			Size:        in.Size,
			SHA256:      in.SHA256,
			Status:      models.VersionPending,
			CreatedByID: userID,
		}
		return tx.Create(&version).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &file, &version, nil
}

func (l *Ledger) markFailed(ctx context.Context, versionID string) {
	err := l.db.WithContext(context.WithoutCancel(ctx)).Model(&models.FileVersion{}).
		Where("id = ? AND status = ?", versionID, models.VersionPending).
		Update("status", models.VersionFailed).Error
	if err != nil {
		l.log.Error("mark_version_failed", "version_id", versionID, "error", err)
	}
}

// Complete 将 PENDING 版本标记为 READY
// 已是 READY 时幂等返回；FAILED 返回冲突。文件的当前字段只由版本号最大的 READY 版本决定
func (l *Ledger) Complete(ctx context.Context, organizationID, userID, fileID string, in CompleteInput) (*CompleteResult, error) {
	var file models.File
	if err := l.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", fileID, organizationID).
		First(&file).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("Upload version")
		}
		return nil, apperr.Internal(err)
	}

	var version models.FileVersion
	var transitioned bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND file_id = ?", in.VersionID, fileID).First(&version).Error; err != nil {
			return err
		}

		switch version.Status {
		case models.VersionReady:
			return nil
		case models.VersionFailed:
			return apperr.Conflict("Upload failed or expired, request a new upload URL")
		}

		res := tx.Model(&models.FileVersion{}).
			Where("id = ? AND status = ?", version.ID, models.VersionPending).
			Updates(map[string]interface{}{
				"size":       in.Size,
				"mime_type":  in.MimeType,
				"sha256":     in.SHA256,
				"status":     models.VersionReady,
				"updated_at": l.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 被维护任务或并发请求抢先改变了状态，重新读取
			if err := tx.First(&version, "id = ?", version.ID).Error; err != nil {
				return err
			}
			if version.Status == models.VersionReady {
				return nil
			}
			return apperr.Conflict("Upload failed or expired, request a new upload URL")
		}
		transitioned = true
		version.Size = in.Size
		version.MimeType = in.MimeType
		version.SHA256 = in.SHA256
		version.Status = models.VersionReady

		var maxReady int
		if err := tx.Model(&models.FileVersion{}).
			Where("file_id = ? AND status = ?", fileID, models.VersionReady).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxReady).Error; err != nil {
			return err
		}

		current := map[string]interface{}{"updated_at": l.now()}
		if version.Version >= maxReady {
			current["size"] = in.Size
			current["mime_type"] = in.MimeType
			current["sha256"] = in.SHA256
			current["object_key"] = version.ObjectKey
		}
		return tx.Model(&models.File{}).Where("id = ?", fileID).Updates(current).Error
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("Upload version")
		}
		if apperr.Is(err, apperr.KindConflict) {
			metrics.RecordUpload("complete", "rejected")
			return nil, err
		}
		return nil, apperr.Internal(err)
	}

	result := &CompleteResult{
		FileID:    fileID,
		VersionID: version.ID,
		Version:   version.Version,
		Status:    version.Status,
	}
	if !transitioned {
		return result, nil
	}

	metrics.RecordUpload("complete", "success")
	event := realtime.EventFileAdded
	if version.Version > 1 {
		event = realtime.EventFileVersioned
	}
	l.notifier.Broadcast(ctx, file.MeetingID, event, map[string]interface{}{
		"meetingId": file.MeetingID,
		"fileId":    fileID,
		"version":   version.Version,
		"fileName":  file.Name,
		"timestamp": l.now().Format(time.RFC3339),
	})
	l.notifier.Broadcast(ctx, file.MeetingID, realtime.EventMeetingUpdated, map[string]interface{}{
		"meetingId": file.MeetingID,
		"reason":    event,
	})

	l.audit.Record(ctx, audit.Entry{
		OrganizationID: organizationID,
		ActorUserID:    userID,
		MeetingID:      file.MeetingID,
		Action:         audit.ActionFileComplete,
		EntityType:     "file",
		EntityID:       fileID,
		Metadata: map[string]interface{}{
			"versionId": version.ID,
			"version":   version.Version,
		},
	})
	return result, nil
}

// DownloadURL 组织成员下载最新 READY 版本
func (l *Ledger) DownloadURL(ctx context.Context, organizationID, userID, fileID string) (*DownloadResult, error) {
	var file models.File
	if err := l.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", fileID, organizationID).
		First(&file).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("File")
		}
		return nil, apperr.Internal(err)
	}

	result, err := l.signLatest(ctx, &file)
	if err != nil {
		return nil, err
	}

	l.audit.Record(ctx, audit.Entry{
		OrganizationID: organizationID,
		ActorUserID:    userID,
		MeetingID:      file.MeetingID,
		Action:         audit.ActionFileDownload,
		EntityType:     "file",
		EntityID:       file.ID,
		Metadata:       map[string]interface{}{"version": result.Version},
	})
	return result, nil
}

// PublicDownloadURL 公开访问者下载；文件必须属于给定组织和会议
func (l *Ledger) PublicDownloadURL(ctx context.Context, organizationID, meetingID, fileID string) (*DownloadResult, error) {
	var file models.File
	if err := l.db.WithContext(ctx).
		Where("id = ? AND organization_id = ? AND meeting_id = ?", fileID, organizationID, meetingID).
		First(&file).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("File")
		}
		return nil, apperr.Internal(err)
	}
	return l.signLatest(ctx, &file)
}

func (l *Ledger) signLatest(ctx context.Context, file *models.File) (*DownloadResult, error) {
	latest, err := LatestVersions(ctx, l.db, []string{file.ID}, true)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	version, ok := latest[file.ID]
	if !ok {
		return nil, apperr.NotFound("File")
	}

	signed, err := l.objects.PresignGet(ctx, version.ObjectKey, url.PathEscape(file.Name), l.cfg.DownloadURLTTL)
	if err != nil {
		return nil, apperr.Unavailable("Object storage unavailable", err)
	}

	return &DownloadResult{
		FileID:           file.ID,
		FileName:         file.Name,
		MimeType:         version.MimeType,
		Version:          version.Version,
		ExpiresInSeconds: int(l.cfg.DownloadURLTTL / time.Second),
		URL:              signed,
	}, nil
}

// LatestVersions 每个文件版本号最大的版本；readyOnly 时只看 READY，PENDING 对读者不可见
func LatestVersions(ctx context.Context, db *gorm.DB, fileIDs []string, readyOnly bool) (map[string]models.FileVersion, error) {
	out := make(map[string]models.FileVersion, len(fileIDs))
	if len(fileIDs) == 0 {
		return out, nil
	}

	q := db.WithContext(ctx).Where("file_id IN ?", fileIDs)
	if readyOnly {
		q = q.Where("status = ?", models.VersionReady)
	}
	var versions []models.FileVersion
	if err := q.Order("file_id ASC").Order("version DESC").Find(&versions).Error; err != nil {
		return nil, err
	}
	for _, v := range versions {
		if _, seen := out[v.FileID]; !seen {
			out[v.FileID] = v
		}
	}
	return out, nil
}

// FailStalePending 将超时仍为 PENDING 的版本标记为 FAILED，不触碰 READY
func FailStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&models.FileVersion{}).
		Where("status = ? AND created_at < ?", models.VersionPending, olderThan).
		Updates(map[string]interface{}{"status": models.VersionFailed, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}
