// Package testutil 测试辅助：SQLite 测试库、固定数据、记录型通知器
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/config"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
)

// Password 固定数据中所有用户的密码
const Password = "correct-horse-battery"

// NewDB 在临时目录创建并迁移 SQLite 数据库
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "test.db"),
	}, nil)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })
	return db
}

// NewIssuer 测试用令牌签发器
func NewIssuer() *tokens.Issuer {
	return tokens.NewIssuer(tokens.Config{
		AccessSecret:  "access-secret-access-secret-0123456789",
		RefreshSecret: "refresh-secret-refresh-secret-0123456789",
		PublicSecret:  "public-secret-public-secret-0123456789",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
		PublicTTL:     10 * time.Minute,
	})
}

// NewAudit 写入测试库的审计记录器
func NewAudit(db *gorm.DB) *audit.DBRecorder {
	return audit.NewDBRecorder(db, nil, nil)
}

// Fixture 两个组织及各角色用户
type Fixture struct {
	Org      *models.Organization
	OtherOrg *models.Organization
	Owner    *models.User
	Admin    *models.User
	Editor   *models.User
	Viewer   *models.User
	Outsider *models.User // OtherOrg 的 OWNER
}

// Seed 写入固定数据
func Seed(t testing.TB, db *gorm.DB) *Fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	f := &Fixture{
		Org:      &models.Organization{Name: "Acme", PrimaryColor: models.DefaultPrimaryColor},
		OtherOrg: &models.Organization{Name: "Globex", PrimaryColor: models.DefaultPrimaryColor},
	}
	mustCreate(t, db, f.Org)
	mustCreate(t, db, f.OtherOrg)

	newUser := func(org *models.Organization, email string, role models.Role) *models.User {
		u := &models.User{OrganizationID: org.ID, Email: email, PasswordHash: string(hash), Role: role}
		mustCreate(t, db, u)
		return u
	}
	f.Owner = newUser(f.Org, "owner@acme.test", models.RoleOwner)
	f.Admin = newUser(f.Org, "admin@acme.test", models.RoleAdmin)
	f.Editor = newUser(f.Org, "editor@acme.test", models.RoleEditor)
	f.Viewer = newUser(f.Org, "viewer@acme.test", models.RoleViewer)
	f.Outsider = newUser(f.OtherOrg, "owner@globex.test", models.RoleOwner)
	return f
}

// MeetingOptions 创建会议的可选参数
type MeetingOptions struct {
	Status    models.MeetingStatus
	ExpiresAt *time.Time
	Policy    *models.AccessPolicy
	Password  string // 非空时生成 PASSWORD 策略
}

// CreateMeeting 直接写库创建会议
func CreateMeeting(t testing.TB, db *gorm.DB, creator *models.User, slug string, opts MeetingOptions) *models.Meeting {
	t.Helper()
	if opts.Status == "" {
		opts.Status = models.MeetingActive
	}
	m := &models.Meeting{
		OrganizationID: creator.OrganizationID,
		CreatedByID:    creator.ID,
		Slug:           slug,
		Title:          "Meeting " + slug,
		Status:         opts.Status,
		ExpiresAt:      opts.ExpiresAt,
	}
	mustCreate(t, db, m)

	policy := opts.Policy
	if opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		h := string(hash)
		if policy == nil {
			policy = &models.AccessPolicy{}
		}
		policy.AccessType = models.AccessPassword
		policy.PasswordHash = &h
	}
	if policy != nil {
		policy.MeetingID = m.ID
		mustCreate(t, db, policy)
		m.AccessPolicy = policy
	}
	return m
}

// CreateReadyFile 写入一个文件及其 READY 版本
func CreateReadyFile(t testing.TB, db *gorm.DB, meeting *models.Meeting, name string, version int) (*models.File, *models.FileVersion) {
	t.Helper()
	f := &models.File{
		OrganizationID: meeting.OrganizationID,
		MeetingID:      meeting.ID,
		Name:           name,
		MimeType:       "application/pdf",
		Size:           1024,
		ObjectKey:      meeting.OrganizationID + "/" + meeting.ID + "/" + name,
		CreatedByID:    meeting.CreatedByID,
	}
	mustCreate(t, db, f)
	v := &models.FileVersion{
		FileID:      f.ID,
		Version:     version,
		ObjectKey:   f.ObjectKey,
		MimeType:    f.MimeType,
		Size:        f.Size,
		Status:      models.VersionReady,
		CreatedByID: f.CreatedByID,
	}
	mustCreate(t, db, v)
	return f, v
}

// AuditActions 按写入顺序返回组织的审计操作
func AuditActions(t testing.TB, db *gorm.DB, organizationID string) []string {
	t.Helper()
	var actions []string
	if err := db.Model(&models.AuditLog{}).
		Where("organization_id = ?", organizationID).
		Order("created_at ASC").
		Pluck("action", &actions).Error; err != nil {
		t.Fatalf("load audit actions: %v", err)
	}
	return actions
}

func mustCreate(t testing.TB, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}

// Event 记录的一次广播
type Event struct {
	MeetingID string
	Name      string
	Payload   interface{}
}

// Notifier 记录广播而不投递
type Notifier struct {
	mu     sync.Mutex
	events []Event
}

// Broadcast 实现 realtime.Notifier
func (n *Notifier) Broadcast(ctx context.Context, meetingID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, Event{MeetingID: meetingID, Name: event, Payload: payload})
}

// Events 返回已记录广播的副本
func (n *Notifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

// Names 返回已记录的事件名
func (n *Notifier) Names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.events))
	for _, e := range n.events {
		names = append(names, e.Name)
	}
	return names
}
