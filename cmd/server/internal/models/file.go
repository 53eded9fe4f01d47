package models

// FileVersionStatus 文件版本状态
type FileVersionStatus string

const (
	VersionPending FileVersionStatus = "PENDING"
	VersionReady   FileVersionStatus = "READY"
	VersionFailed  FileVersionStatus = "FAILED"
)

// File 会议内的稳定文件身份，当前字段反映最新 READY 版本
type File struct {
	Base
	OrganizationID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_files_org_meeting_name,priority:1" json:"organizationId"`
	MeetingID      string `gorm:"type:varchar(36);not null;uniqueIndex:idx_files_org_meeting_name,priority:2;index" json:"meetingId"`
	Name           string `gorm:"size:255;not null;uniqueIndex:idx_files_org_meeting_name,priority:3" json:"name"`
	MimeType       string `gorm:"size:255;not null" json:"mimeType"`
	Size           int64  `gorm:"not null" json:"size"`
	SHA256         string `gorm:"column:sha256;size:64" json:"sha256"`
	ObjectKey      string `gorm:"size:512;not null" json:"objectKey"`
	CreatedByID    string `gorm:"type:varchar(36);not null" json:"createdById"`

	Versions []FileVersion `gorm:"foreignKey:FileID" json:"versions,omitempty"`
}

// FileVersion 一次上传产生的版本，version 在同一文件内严格递增
type FileVersion struct {
	Base
	FileID      string            `gorm:"type:varchar(36);not null;uniqueIndex:idx_file_versions_file_version,priority:1" json:"fileId"`
	Version     int               `gorm:"not null;uniqueIndex:idx_file_versions_file_version,priority:2" json:"version"`
	ObjectKey   string            `gorm:"size:512;not null" json:"objectKey"`
	MimeType    string            `gorm:"size:255;not null" json:"mimeType"`
	Size        int64             `gorm:"not null" json:"size"`
	SHA256      string            `gorm:"column:sha256;size:64" json:"sha256"`
	Status      FileVersionStatus `gorm:"size:16;not null;index" json:"status"`
	CreatedByID string            `gorm:"type:varchar(36);not null" json:"createdById"`
}
