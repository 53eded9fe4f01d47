package models

import "time"

// MeetingStatus 会议状态
type MeetingStatus string

const (
	MeetingDraft    MeetingStatus = "DRAFT"
	MeetingActive   MeetingStatus = "ACTIVE"
	MeetingExpired  MeetingStatus = "EXPIRED"
	MeetingArchived MeetingStatus = "ARCHIVED"
)

// AccessType 访问类型
type AccessType string

const (
	AccessPublic   AccessType = "PUBLIC"
	AccessPassword AccessType = "PASSWORD"
	AccessPrivate  AccessType = "PRIVATE"
)

// Valid 是否为已知访问类型
func (a AccessType) Valid() bool {
	switch a {
	case AccessPublic, AccessPassword, AccessPrivate:
		return true
	}
	return false
}

// Meeting 会议（文档分发房间），通过 slug 公开访问
type Meeting struct {
	Base
	OrganizationID string        `gorm:"type:varchar(36);not null;index" json:"organizationId"`
	CreatedByID    string        `gorm:"type:varchar(36);not null" json:"createdById"`
	Slug           string        `gorm:"size:64;not null;uniqueIndex" json:"slug"`
	Title          string        `gorm:"size:200;not null" json:"title"`
	Description    *string       `gorm:"type:text" json:"description"`
	Status         MeetingStatus `gorm:"size:16;not null;index" json:"status"`
	StartsAt       *time.Time    `json:"startsAt"`
	ExpiresAt      *time.Time    `json:"expiresAt"`

	AccessPolicy *AccessPolicy `gorm:"foreignKey:MeetingID" json:"accessPolicy,omitempty"`
}

// EffectiveStatus 展示用状态：ACTIVE 且 expiresAt 已过时视为 EXPIRED，不写库
func (m *Meeting) EffectiveStatus(now time.Time) MeetingStatus {
	if m.Status == MeetingActive && m.ExpiresAt != nil && m.ExpiresAt.Before(now) {
		return MeetingExpired
	}
	return m.Status
}

// IsExpired 存储状态为 EXPIRED 或 expiresAt 已过
func (m *Meeting) IsExpired(now time.Time) bool {
	return m.Status == MeetingExpired || (m.ExpiresAt != nil && m.ExpiresAt.Before(now))
}

// AccessPolicy 会议访问策略，与会议一对一，可缺省（缺省等同 PUBLIC 无时间窗）
type AccessPolicy struct {
	Base
	MeetingID      string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"meetingId"`
	AccessType     AccessType `gorm:"size:16;not null" json:"accessType"`
	PasswordHash   *string    `json:"-"`
	AccessStartsAt *time.Time `json:"accessStartsAt"`
	AccessEndsAt   *time.Time `json:"accessEndsAt"`
	OneTimeAccess  bool       `gorm:"not null;default:false" json:"oneTimeAccess"`
	ViewOnly       bool       `gorm:"not null;default:false" json:"viewOnly"`
}
