// Package audit 审计日志：只追加，写入失败不影响业务操作
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/pkg/metrics"
)

// Action 审计操作类型
type Action string

const (
	ActionRegister         Action = "AUTH_REGISTER"
	ActionLogin            Action = "AUTH_LOGIN"
	ActionRefresh          Action = "AUTH_REFRESH"
	ActionLogout           Action = "AUTH_LOGOUT"
	ActionRefreshReplay    Action = "AUTH_REFRESH_REPLAY"
	ActionMeetingCreate    Action = "MEETING_CREATE"
	ActionMeetingUpdate    Action = "MEETING_UPDATE"
	ActionMeetingDelete    Action = "MEETING_DELETE"
	ActionFilePresign      Action = "FILE_PRESIGN"
	ActionFileComplete     Action = "FILE_UPLOAD_COMPLETE"
	ActionFileDownload     Action = "FILE_DOWNLOAD"
	ActionPublicVerified   Action = "PUBLIC_ACCESS_VERIFIED"
	ActionPublicFileAccess Action = "PUBLIC_FILE_ACCESS"
	ActionOrgUpdate        Action = "ORGANIZATION_UPDATE"
)

// Entry 审计条目
type Entry struct {
	OrganizationID string
	ActorUserID    string // 匿名访问为空
	MeetingID      string
	Action         Action
	EntityType     string
	EntityID       string
	Metadata       map[string]interface{}
}

// Recorder 审计记录器
type Recorder interface {
	// Record 追加一条审计记录；失败仅记录日志，不返回错误
	Record(ctx context.Context, e Entry)
}

// DBRecorder 写入 audit_logs 表，可选同步镜像到 JSONL 文件
type DBRecorder struct {
	db     *gorm.DB
	log    *slog.Logger
	mirror io.Writer
	mu     sync.Mutex
}

// NewDBRecorder 创建数据库审计记录器；mirror 为 nil 时不写镜像
func NewDBRecorder(db *gorm.DB, log *slog.Logger, mirror io.Writer) *DBRecorder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DBRecorder{db: db, log: log.With("component", "audit"), mirror: mirror}
}

// NewJSONLSink 创建按大小滚动的 JSONL 镜像文件
func NewJSONLSink(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 10,
		MaxAge:     90, // days
		Compress:   true,
	}
}

// Record 追加审计记录
func (r *DBRecorder) Record(ctx context.Context, e Entry) {
	row := &models.AuditLog{
		OrganizationID: e.OrganizationID,
		ActorUserID:    optional(e.ActorUserID),
		MeetingID:      optional(e.MeetingID),
		Action:         string(e.Action),
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		Metadata:       e.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	// 请求结束或客户端断开时仍需落库
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(row).Error; err != nil {
		metrics.RecordAuditFailure()
		r.log.Error("audit_write_failed",
			"action", e.Action,
			"entity_type", e.EntityType,
			"entity_id", e.EntityID,
			"error", err,
		)
	}

	if r.mirror != nil {
		r.writeMirror(row)
	}
}

func (r *DBRecorder) writeMirror(row *models.AuditLog) {
	data, err := json.Marshal(row)
	if err != nil {
		r.log.Warn("audit_mirror_marshal_failed", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.mirror.Write(append(data, '\n')); err != nil {
		r.log.Warn("audit_mirror_write_failed", "error", err)
	}
}

// List 按时间倒序查询组织的审计记录；before 非零时只返回更早的条目
func (r *DBRecorder) List(ctx context.Context, organizationID string, limit int, before time.Time) ([]models.AuditLog, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}
	q := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Limit(limit)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}

	var rows []models.AuditLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
