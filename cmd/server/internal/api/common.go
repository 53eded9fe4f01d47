package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/middleware"
	"github.com/omniqr/scansuite/pkg/logger"
)

func init() {
	// 校验错误的字段名使用 json 标签
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	}
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:       http.StatusBadRequest,
	apperr.KindUnauthorized:     http.StatusUnauthorized,
	apperr.KindForbidden:        http.StatusForbidden,
	apperr.KindNotFound:         http.StatusNotFound,
	apperr.KindConflict:         http.StatusConflict,
	apperr.KindTooLarge:         http.StatusRequestEntityTooLarge,
	apperr.KindGone:             http.StatusGone,
	apperr.KindPasswordRequired: http.StatusUnauthorized,
	apperr.KindUnavailable:      http.StatusServiceUnavailable,
	apperr.KindInternal:         http.StatusInternalServerError,
}

// writeError 将业务错误统一映射为 HTTP 响应
func writeError(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		e = apperr.Internal(err)
	}
	status, ok := kindStatus[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	switch e.Kind {
	case apperr.KindInternal, apperr.KindUnavailable:
		logger.L().Error("request_failed",
			"rid", middleware.RequestID(c),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"kind", e.Kind,
			"error", err,
		)
		message := e.Message
		if e.Kind == apperr.KindInternal {
			message = "Internal server error"
		}
		errorResponse(c, status, message)
	case apperr.KindValidation:
		if len(e.Fields) > 0 {
			c.AbortWithStatusJSON(status, gin.H{"error": e.Message, "fields": e.Fields})
			return
		}
		errorResponse(c, status, e.Message)
	case apperr.KindPasswordRequired:
		body := gin.H{"error": e.Message}
		for k, v := range e.Details {
			body[k] = v
		}
		c.AbortWithStatusJSON(status, body)
	default:
		errorResponse(c, status, e.Message)
	}
}

// errorResponse 返回错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{
		"error": message,
	})
}

// validationErrorResponse 返回验证错误响应
func validationErrorResponse(c *gin.Context, fields map[string]string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":  "validation failed",
		"fields": fields,
	})
}

// bindJSON 解析并校验请求体，失败时直接写出 400
func bindJSON(c *gin.Context, dst interface{}) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fe.Tag()
		}
		validationErrorResponse(c, fields)
		return false
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		errorResponse(c, http.StatusBadRequest, "request body is required")
	case errors.As(err, &typeErr):
		validationErrorResponse(c, map[string]string{typeErr.Field: "type"})
	case errors.As(err, &syntaxErr):
		errorResponse(c, http.StatusBadRequest, "malformed JSON body")
	default:
		errorResponse(c, http.StatusBadRequest, "invalid request body")
	}
	return false
}

// fieldPath 去掉顶层结构体名，如 CreateInput.accessPolicy.password → accessPolicy.password
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// principal 返回已认证用户；路由组保证 RequireAuth 在前
func principal(c *gin.Context) *middleware.Principal {
	return middleware.CurrentPrincipal(c)
}
