// Package tokens 签发和校验三类令牌：用户访问令牌、刷新令牌、会议公开访问令牌
package tokens

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/omniqr/scansuite/cmd/server/internal/models"
)

// Type 令牌类型判别字段的取值
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
	TypePublic  Type = "public"
)

// ErrInvalidToken 校验失败（签名、过期、类型不符）统一返回此错误，不区分原因
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims 用户访问令牌
type AccessClaims struct {
	UserID         string      `json:"userId"`
	OrganizationID string      `json:"organizationId"`
	Role           models.Role `json:"role"`
	Email          string      `json:"email"`
	Type           Type        `json:"type"`
	jwt.RegisteredClaims
}

// RefreshClaims 刷新令牌
type RefreshClaims struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	SessionID      string `json:"sessionId"`
	Type           Type   `json:"type"`
	jwt.RegisteredClaims
}

// PublicClaims 会议公开访问令牌，仅在密码校验通过后签发
type PublicClaims struct {
	MeetingID      string `json:"meetingId"`
	OrganizationID string `json:"organizationId"`
	Type           Type   `json:"type"`
	jwt.RegisteredClaims
}

// Config 三组独立的密钥与有效期
type Config struct {
	AccessSecret  string
	RefreshSecret string
	PublicSecret  string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	PublicTTL     time.Duration
}

// Issuer 令牌签发器
type Issuer struct {
	cfg Config
	now func() time.Time
}

// NewIssuer 创建签发器
func NewIssuer(cfg Config) *Issuer {
	return &Issuer{cfg: cfg, now: time.Now}
}

// WithClock 替换时钟（测试用）
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// AccessTTL 访问令牌有效期
func (i *Issuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// RefreshTTL 刷新令牌有效期
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

// PublicTTL 公开访问令牌有效期
func (i *Issuer) PublicTTL() time.Duration { return i.cfg.PublicTTL }

func (i *Issuer) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := i.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// IssueAccess 签发用户访问令牌
func (i *Issuer) IssueAccess(userID, organizationID string, role models.Role, email string) (string, error) {
	claims := AccessClaims{
		UserID:           userID,
		OrganizationID:   organizationID,
		Role:             role,
		Email:            email,
		Type:             TypeAccess,
		RegisteredClaims: i.registered(userID, i.cfg.AccessTTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.AccessSecret))
}

// IssueRefresh 签发刷新令牌；每次签发带唯一 jti，同一秒内轮换也不会得到相同令牌
func (i *Issuer) IssueRefresh(userID, organizationID, sessionID string) (string, error) {
	claims := RefreshClaims{
		UserID:           userID,
		OrganizationID:   organizationID,
		SessionID:        sessionID,
		Type:             TypeRefresh,
		RegisteredClaims: i.registered(userID, i.cfg.RefreshTTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.RefreshSecret))
}

// IssuePublic 签发会议公开访问令牌
func (i *Issuer) IssuePublic(meetingID, organizationID string) (string, error) {
	claims := PublicClaims{
		MeetingID:        meetingID,
		OrganizationID:   organizationID,
		Type:             TypePublic,
		RegisteredClaims: i.registered(meetingID, i.cfg.PublicTTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.PublicSecret))
}

// VerifyAccess 校验用户访问令牌
func (i *Issuer) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, i.cfg.AccessSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.UserID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh 校验刷新令牌（仅签名与类型，会话状态由调用方查库）
func (i *Issuer) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(token, claims, i.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyPublic 校验会议公开访问令牌
func (i *Issuer) VerifyPublic(token string) (*PublicClaims, error) {
	claims := &PublicClaims{}
	if err := i.parse(token, claims, i.cfg.PublicSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypePublic || claims.MeetingID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) parse(token string, claims jwt.Claims, secret string) error {
	if token == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

// HashToken 令牌存储摘要（SHA-256 十六进制）
// 刷新令牌本身已具备签名熵，使用确定性摘要即可按值比对
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
