// Package storage 对象存储：只签发直传 URL，服务端不经手文件内容
package storage

import (
	"context"
	"time"
)

// ObjectStore 对象存储抽象
type ObjectStore interface {
	// PresignPut 签发限时上传 URL，Content-Type 与 Content-Length 参与签名
	PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (string, error)
	// PresignGet 签发限时下载 URL，以附件形式返回并使用给定文件名
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
	// Ping 探测存储桶可达（就绪探针）
	Ping(ctx context.Context) error
}

// AttachmentDisposition 构造下载时的 Content-Disposition
func AttachmentDisposition(filename string) string {
	return `attachment; filename="` + sanitizeHeaderValue(filename) + `"`
}

func sanitizeHeaderValue(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			out = append(out, '_')
		case r < 0x20 || r == 0x7f:
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
