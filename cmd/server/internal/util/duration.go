package util

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var ttlPattern = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)$`)

// ParseTTL 解析形如 "15m"、"30d"、"500ms" 的时长字符串
// 只接受 <整数><ms|s|m|h|d>，其他格式一律报错（不接受 time.ParseDuration 的组合写法）
func ParseTTL(value string) (time.Duration, error) {
	m := ttlPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid duration format: %q (expected <int><ms|s|m|h|d>)", value)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration amount: %q", m[1])
	}

	var unit time.Duration
	switch m[2] {
	case "ms":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}

	if n > int64(1<<63-1)/int64(unit) {
		return 0, fmt.Errorf("duration out of range: %q", value)
	}
	return time.Duration(n) * unit, nil
}

// MustParseTTL 同 ParseTTL，解析失败时 panic，仅用于常量默认值
func MustParseTTL(value string) time.Duration {
	d, err := ParseTTL(value)
	if err != nil {
		panic(err)
	}
	return d
}
