package files

import (
	"path"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

const maxSafeNameLen = 220

// SanitizeFileName 将文件名中非 [a-zA-Z0-9._-] 的字符替换为 "-" 并截断
func SanitizeFileName(name string) string {
	safe := unsafeNameChars.ReplaceAllString(name, "-")
	if len(safe) > maxSafeNameLen {
		safe = safe[:maxSafeNameLen]
	}
	return safe
}

// BuildObjectKey 对象键：{org}/{meeting}/{file}/v{n}/{uuid}-{name}
// 按租户、会议、文件、版本分层，不同版本之间不会互相覆盖
func BuildObjectKey(organizationID, meetingID, fileID string, version int, fileName string) string {
	return path.Join(
		organizationID,
		meetingID,
		fileID,
		"v"+strconv.Itoa(version),
		uuid.NewString()+"-"+SanitizeFileName(fileName),
	)
}
