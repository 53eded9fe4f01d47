package models

import "time"

// Session 刷新令牌载体，仅保存令牌摘要
type Session struct {
	Base
	UserID           string     `gorm:"type:varchar(36);not null;index" json:"userId"`
	RefreshTokenHash string     `gorm:"size:64;not null" json:"-"`
	ExpiresAt        time.Time  `gorm:"not null;index" json:"expiresAt"`
	RevokedAt        *time.Time `gorm:"index" json:"revokedAt,omitempty"`
	IPAddress        string     `gorm:"size:64" json:"ipAddress"`
	UserAgent        string     `gorm:"size:512" json:"userAgent"`
}

// Usable 未吊销且未过期（不含摘要比对）
func (s *Session) Usable(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
