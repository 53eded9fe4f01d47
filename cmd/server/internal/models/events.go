package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device 扫码设备类别
type Device string

const (
	DeviceMobile  Device = "mobile"
	DeviceDesktop Device = "desktop"
	DeviceOther   Device = "other"
)

// ScanEvent 一次公开访问记录
type ScanEvent struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrganizationID string    `gorm:"type:varchar(36);not null;index" json:"organizationId"`
	MeetingID      string    `gorm:"type:varchar(36);not null;index" json:"meetingId"`
	IPAddress      string    `gorm:"size:64" json:"ipAddress"`
	Device         Device    `gorm:"size:16;not null" json:"device"`
	ScannedAt      time.Time `gorm:"not null;index" json:"scannedAt"`
}

// BeforeCreate 生成主键与时间
func (e *ScanEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ScannedAt.IsZero() {
		e.ScannedAt = time.Now().UTC()
	}
	return nil
}

// AuditLog 审计条目，只追加
type AuditLog struct {
	ID             string                 `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrganizationID string                 `gorm:"type:varchar(36);not null;index" json:"organizationId"`
	ActorUserID    *string                `gorm:"type:varchar(36)" json:"actorUserId"`
	MeetingID      *string                `gorm:"type:varchar(36);index" json:"meetingId"`
	Action         string                 `gorm:"size:64;not null;index" json:"action"`
	EntityType     string                 `gorm:"size:64;not null" json:"entityType"`
	EntityID       string                 `gorm:"size:64;not null" json:"entityId"`
	Metadata       map[string]interface{} `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	CreatedAt      time.Time              `gorm:"index" json:"createdAt"`
}

// BeforeCreate 生成主键
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
