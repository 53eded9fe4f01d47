package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omniqr/scansuite/cmd/server/internal/util"
)

// Config 统一配置结构
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Database    DatabaseConfig
	Security    SecurityConfig
	Storage     StorageConfig
	Realtime    RealtimeConfig
	Audit       AuditConfig
	Maintenance MaintenanceConfig
	RateLimit   RateLimitConfig

	// loadErrors 记录加载阶段的解析问题，由 ValidateConfig 统一报告
	loadErrors []string
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env                string // dev, development, test, staging, production
	Port               string
	AppBaseURL         string
	CORSAllowedOrigins []string
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // console, json, 为空时按环境决定
	File   string
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string // postgres, sqlite
	URL          string
	MaxOpenConns int
}

// SecurityConfig 令牌配置
type SecurityConfig struct {
	AccessSecret  string
	RefreshSecret string
	PublicSecret  string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	PublicTTL     time.Duration
	BcryptCost    int
	CookieSecure  bool
	CookieDomain  string
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	Driver         string // s3, memory
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	MaxFileSizeMB  int64
	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration
}

// RealtimeConfig 实时通道配置
type RealtimeConfig struct {
	RedisURL       string
	MaxConnections int
}

// AuditConfig 审计配置
type AuditConfig struct {
	File string
}

// MaintenanceConfig 维护任务配置
type MaintenanceConfig struct {
	PendingUploadTTL time.Duration
	Interval         time.Duration
}

// RateLimitConfig 限流配置（每分钟每 IP 请求数）
type RateLimitConfig struct {
	AuthPerMinute   int
	PublicPerMinute int
}

// GlobalConfig 全局配置实例
var GlobalConfig *Config

// fileValues 来自 CONFIG_FILE 的键值，优先级低于环境变量
var fileValues map[string]string

// LoadConfig 从环境变量加载配置，CONFIG_FILE 指定的 YAML 文件作为默认值来源
func LoadConfig() (*Config, error) {
	fileValues = nil
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		fileValues = values
	}

	cfg := &Config{}
	cfg.Server = ServerConfig{
		Env:                getEnv("ENV", "dev"),
		Port:               getEnv("PORT", "4000"),
		AppBaseURL:         getEnv("APP_BASE_URL", "http://localhost:3000"),
		CORSAllowedOrigins: parseStringList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}
	cfg.Log = LogConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", ""),
		File:   getEnv("LOG_FILE", ""),
	}
	cfg.Database = DatabaseConfig{
		Driver:       getEnv("DB_DRIVER", "sqlite"),
		URL:          getEnv("DATABASE_URL", "scansuite.db"),
		MaxOpenConns: cfg.intValue("DB_MAX_OPEN_CONNS", 10),
	}
	cfg.Security = SecurityConfig{
		AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		PublicSecret:  getEnv("JWT_PUBLIC_SECRET", ""),
		AccessTTL:     cfg.ttlValue("ACCESS_TOKEN_TTL", "15m"),
		RefreshTTL:    cfg.ttlValue("REFRESH_TOKEN_TTL", "30d"),
		PublicTTL:     cfg.ttlValue("PUBLIC_ACCESS_TOKEN_TTL", "10m"),
		BcryptCost:    cfg.intValue("BCRYPT_COST", 12),
		CookieDomain:  getEnv("COOKIE_DOMAIN", ""),
	}
	cfg.Security.CookieSecure = cfg.IsProduction()
	cfg.Storage = StorageConfig{
		Driver:         getEnv("STORAGE_DRIVER", "s3"),
		Endpoint:       getEnv("S3_ENDPOINT", "localhost:9000"),
		Region:         getEnv("S3_REGION", "us-east-1"),
		AccessKey:      getEnv("S3_ACCESS_KEY", ""),
		SecretKey:      getEnv("S3_SECRET_KEY", ""),
		Bucket:         getEnv("S3_BUCKET", "omniqr"),
		UseSSL:         cfg.boolValue("S3_USE_SSL", false),
		MaxFileSizeMB:  int64(cfg.intValue("MAX_FILE_SIZE_MB", 20)),
		UploadURLTTL:   cfg.ttlValue("UPLOAD_URL_TTL", "15m"),
		DownloadURLTTL: cfg.ttlValue("DOWNLOAD_URL_TTL", "60s"),
	}
	cfg.Realtime = RealtimeConfig{
		RedisURL:       getEnv("REDIS_URL", ""),
		MaxConnections: cfg.intValue("REALTIME_MAX_CONNECTIONS", 1000),
	}
	cfg.Audit = AuditConfig{File: getEnv("AUDIT_LOG_FILE", "")}
	cfg.Maintenance = MaintenanceConfig{
		PendingUploadTTL: cfg.ttlValue("PENDING_UPLOAD_TTL", "1h"),
		Interval:         cfg.ttlValue("MAINTENANCE_INTERVAL", "10m"),
	}
	cfg.RateLimit = RateLimitConfig{
		AuthPerMinute:   cfg.intValue("RATE_LIMIT_AUTH_PER_MIN", 20),
		PublicPerMinute: cfg.intValue("RATE_LIMIT_PUBLIC_PER_MIN", 120),
	}

	GlobalConfig = cfg
	return cfg, nil
}

// ValidateConfig 验证配置的有效性
func ValidateConfig(cfg *Config) error {
	errors := append([]string{}, cfg.loadErrors...)

	// 1. 环境验证
	validEnvs := map[string]bool{"dev": true, "development": true, "test": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, test, staging, production)", cfg.Server.Env))
	}

	// 2. 三个令牌密钥相互独立，非开发环境要求足够长度
	secrets := []struct{ name, value string }{
		{"JWT_ACCESS_SECRET", cfg.Security.AccessSecret},
		{"JWT_REFRESH_SECRET", cfg.Security.RefreshSecret},
		{"JWT_PUBLIC_SECRET", cfg.Security.PublicSecret},
	}
	seen := map[string]string{}
	for _, s := range secrets {
		if s.value == "" {
			errors = append(errors, s.name+" is required")
			continue
		}
		if !cfg.IsDevelopment() && len(s.value) < 32 {
			errors = append(errors, s.name+" must be at least 32 characters long")
		}
		if other, ok := seen[s.value]; ok {
			errors = append(errors, fmt.Sprintf("%s must differ from %s", s.name, other))
		}
		seen[s.value] = s.name
	}

	// 3. 端口验证
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 4. 日志级别与格式
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}
	validLogFormats := map[string]bool{"": true, "console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errors = append(errors, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	// 5. 数据库
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		errors = append(errors, fmt.Sprintf("invalid DB_DRIVER: %s (must be: postgres, sqlite)", cfg.Database.Driver))
	}
	if cfg.Database.URL == "" {
		errors = append(errors, "DATABASE_URL is required")
	}
	if cfg.IsProduction() && cfg.Database.Driver == "sqlite" {
		errors = append(errors, "DB_DRIVER=sqlite is not allowed in production")
	}

	// 6. 对象存储
	switch cfg.Storage.Driver {
	case "s3":
		if cfg.Storage.Endpoint == "" || cfg.Storage.Bucket == "" {
			errors = append(errors, "S3_ENDPOINT and S3_BUCKET are required when STORAGE_DRIVER=s3")
		}
		if cfg.Storage.AccessKey == "" || cfg.Storage.SecretKey == "" {
			errors = append(errors, "S3_ACCESS_KEY and S3_SECRET_KEY are required when STORAGE_DRIVER=s3")
		}
	case "memory":
		if cfg.IsProduction() {
			errors = append(errors, "STORAGE_DRIVER=memory is not allowed in production")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid STORAGE_DRIVER: %s (must be: s3, memory)", cfg.Storage.Driver))
	}
	if cfg.Storage.MaxFileSizeMB <= 0 {
		errors = append(errors, "MAX_FILE_SIZE_MB must be positive")
	}

	// 7. 限流与维护
	if cfg.RateLimit.AuthPerMinute <= 0 || cfg.RateLimit.PublicPerMinute <= 0 {
		errors = append(errors, "RATE_LIMIT_AUTH_PER_MIN and RATE_LIMIT_PUBLIC_PER_MIN must be positive")
	}
	if cfg.Maintenance.Interval <= 0 {
		errors = append(errors, "MAINTENANCE_INTERVAL must be positive")
	}
	if cfg.Security.BcryptCost < 4 || cfg.Security.BcryptCost > 31 {
		errors = append(errors, fmt.Sprintf("invalid BCRYPT_COST: %d (must be 4-31)", cfg.Security.BcryptCost))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsDevelopment 判断是否为开发环境（含测试）
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "dev" || c.Server.Env == "development" || c.Server.Env == "test"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// MaxFileSizeBytes 上传大小上限（字节）
func (c *Config) MaxFileSizeBytes() int64 {
	return c.Storage.MaxFileSizeMB * 1024 * 1024
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  App Base URL: %s
  CORS Origins: %v
  Logging:
    - Level: %s
    - Format: %s
    - File: %s
  Database:
    - Driver: %s
    - URL: %s
  Tokens:
    - Access Secret: %s (ttl %s)
    - Refresh Secret: %s (ttl %s)
    - Public Secret: %s (ttl %s)
  Storage:
    - Driver: %s
    - Endpoint: %s
    - Bucket: %s
    - Access Key: %s
    - Max File Size: %d MB
  Realtime Redis: %s
  Audit Mirror: %s
  Maintenance: every %s, pending ttl %s`,
		c.Server.Env,
		c.Server.Port,
		c.Server.AppBaseURL,
		c.Server.CORSAllowedOrigins,
		c.Log.Level,
		c.Log.Format,
		valueOrUnset(c.Log.File),
		c.Database.Driver,
		maskURL(c.Database.URL),
		maskSecret(c.Security.AccessSecret), c.Security.AccessTTL,
		maskSecret(c.Security.RefreshSecret), c.Security.RefreshTTL,
		maskSecret(c.Security.PublicSecret), c.Security.PublicTTL,
		c.Storage.Driver,
		c.Storage.Endpoint,
		c.Storage.Bucket,
		maskSecret(c.Storage.AccessKey),
		c.Storage.MaxFileSizeMB,
		maskURL(c.Realtime.RedisURL),
		valueOrUnset(c.Audit.File),
		c.Maintenance.Interval,
		c.Maintenance.PendingUploadTTL,
	)
}

// 辅助函数

// loadFile 读取 YAML 配置文件，键名与环境变量一致
func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case nil:
		case []interface{}:
			parts := make([]string, 0, len(vv))
			for _, p := range vv {
				parts = append(parts, fmt.Sprint(p))
			}
			values[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			values[strings.ToUpper(k)] = fmt.Sprint(vv)
		}
	}
	return values, nil
}

// getEnv 获取环境变量，不存在时依次回退到配置文件和默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value, ok := fileValues[key]; ok && value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) intValue(key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("invalid %s: %s (must be an integer)", key, raw))
		return defaultValue
	}
	return n
}

func (c *Config) boolValue(key string, defaultValue bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("invalid %s: %s (must be true or false)", key, raw))
		return defaultValue
	}
	return b
}

func (c *Config) ttlValue(key, defaultValue string) time.Duration {
	raw := getEnv(key, defaultValue)
	d, err := util.ParseTTL(raw)
	if err != nil {
		c.loadErrors = append(c.loadErrors, fmt.Sprintf("invalid %s: %v", key, err))
		return util.MustParseTTL(defaultValue)
	}
	return d
}

// parseStringList 解析逗号分隔的字符串列表
func parseStringList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

// maskURL 隐藏连接串中的密码部分
func maskURL(raw string) string {
	if raw == "" {
		return "<not set>"
	}
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	creds := raw[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":***"
	}
	return raw[:scheme+3] + creds + raw[at:]
}

func valueOrUnset(v string) string {
	if v == "" {
		return "<not set>"
	}
	return v
}
