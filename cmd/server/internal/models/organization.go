package models

// DefaultPrimaryColor 新组织的品牌色
const DefaultPrimaryColor = "#1B4DFF"

// Organization 租户
type Organization struct {
	Base
	Name         string  `gorm:"size:120;not null" json:"name"`
	PrimaryColor string  `gorm:"size:7;not null" json:"primaryColor"`
	LogoURL      *string `gorm:"size:2048" json:"logoUrl"`
}

// User 组织成员账户
type User struct {
	Base
	OrganizationID string `gorm:"type:varchar(36);not null;index" json:"organizationId"`
	Email          string `gorm:"size:320;not null;uniqueIndex" json:"email"`
	PasswordHash   string `gorm:"not null" json:"-"`
	Role           Role   `gorm:"size:16;not null" json:"role"`
}
