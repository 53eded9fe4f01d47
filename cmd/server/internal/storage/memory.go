package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Presigned 内存实现记录的一次签发
type Presigned struct {
	Method      string
	Key         string
	ContentType string
	Size        int64
	Filename    string
	ExpiresAt   time.Time
}

// MemoryStore 开发与测试用实现，不持有任何对象内容
type MemoryStore struct {
	Bucket string

	mu       sync.Mutex
	issued   []Presigned
	pingErr  error
	failNext error
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{Bucket: bucket}
}

// SetPingError 设置探针返回的错误
func (m *MemoryStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// FailNextPresign 下一次签发返回错误
func (m *MemoryStore) FailNextPresign(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Issued 返回已签发记录的副本
func (m *MemoryStore) Issued() []Presigned {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Presigned(nil), m.issued...)
}

func (m *MemoryStore) record(p Presigned) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return "", err
	}
	if p.Key == "" {
		return "", errors.New("empty object key")
	}
	m.issued = append(m.issued, p)

	q := url.Values{}
	q.Set("method", p.Method)
	q.Set("expires", p.ExpiresAt.UTC().Format(time.RFC3339))
	if p.Filename != "" {
		q.Set("response-content-disposition", AttachmentDisposition(p.Filename))
	}
	return fmt.Sprintf("memory://%s/%s?%s", m.Bucket, p.Key, q.Encode()), nil
}

// PresignPut 实现 ObjectStore
func (m *MemoryStore) PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (string, error) {
	return m.record(Presigned{Method: "PUT", Key: key, ContentType: contentType, Size: size, ExpiresAt: time.Now().Add(ttl)})
}

// PresignGet 实现 ObjectStore
func (m *MemoryStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	return m.record(Presigned{Method: "GET", Key: key, Filename: filename, ExpiresAt: time.Now().Add(ttl)})
}

// Ping 实现 ObjectStore
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}
