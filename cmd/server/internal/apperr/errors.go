// Package apperr 定义业务错误分类，由 API 层统一映射为 HTTP 状态码
package apperr

import (
	"errors"
	"fmt"
)

// Kind 表示错误类别
type Kind string

const (
	// KindValidation 输入不符合约束，附带字段级明细
	KindValidation Kind = "VALIDATION"
	// KindUnauthorized 凭证缺失或无效，对外不区分原因
	KindUnauthorized Kind = "UNAUTHORIZED"
	// KindForbidden 身份有效但权限不足
	KindForbidden Kind = "FORBIDDEN"
	// KindNotFound 资源不存在（跨租户访问同样返回此类）
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict 状态冲突，如重复邮箱、已失败的上传
	KindConflict Kind = "CONFLICT"
	// KindTooLarge 上传超过大小上限
	KindTooLarge Kind = "TOO_LARGE"
	// KindGone 会议已过期
	KindGone Kind = "GONE"
	// KindPasswordRequired 会议需要密码
	KindPasswordRequired Kind = "PASSWORD_REQUIRED"
	// KindUnavailable 依赖（数据库、对象存储）不可用
	KindUnavailable Kind = "UNAVAILABLE"
	// KindInternal 未分类的内部错误
	KindInternal Kind = "INTERNAL"
)

// Error 业务错误
type Error struct {
	Kind    Kind              `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	// Details 随错误一并返回给调用方的附加数据（如需要密码时的会议摘要）
	Details map[string]interface{} `json:"-"`
	Err     error                  `json:"-"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap 实现错误链支持
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建业务错误
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 包装底层错误
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation 创建校验错误
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// Unauthorized 创建未认证错误，消息固定
func Unauthorized() *Error {
	return New(KindUnauthorized, "Unauthorized")
}

// Forbidden 创建权限不足错误
func Forbidden(message string) *Error {
	if message == "" {
		message = "Forbidden"
	}
	return New(KindForbidden, message)
}

// NotFound 创建资源不存在错误
func NotFound(resource string) *Error {
	return New(KindNotFound, resource+" not found")
}

// Conflict 创建冲突错误
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// TooLarge 创建超限错误
func TooLarge(message string) *Error {
	return New(KindTooLarge, message)
}

// Gone 创建已过期错误
func Gone(message string) *Error {
	return New(KindGone, message)
}

// PasswordRequired 创建需要密码错误
func PasswordRequired(details map[string]interface{}) *Error {
	return &Error{Kind: KindPasswordRequired, Message: "Password required", Details: details}
}

// Unavailable 创建依赖不可用错误
func Unavailable(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

// Internal 创建内部错误
func Internal(err error) *Error {
	return Wrap(KindInternal, "Internal server error", err)
}

// KindOf 返回错误链中第一个业务错误的类别，非业务错误视为 Internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 判断错误链中是否包含指定类别的业务错误
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Ensure 业务错误原样返回，其余包装为 Internal
func Ensure(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Internal(err)
}
