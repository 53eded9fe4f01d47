package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base 公共字段：字符串 UUID 主键 + 时间戳
type Base struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate 未显式指定时生成主键
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// All 返回需要迁移的全部模型，按依赖顺序排列
func All() []interface{} {
	return []interface{}{
		&Organization{},
		&User{},
		&Session{},
		&Meeting{},
		&AccessPolicy{},
		&File{},
		&FileVersion{},
		&ScanEvent{},
		&AuditLog{},
	}
}
