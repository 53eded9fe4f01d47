package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/storage"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
)

const serviceName = "scansuite-api"

// readinessTimeout 单次就绪探测的总超时
const readinessTimeout = 3 * time.Second

// HealthCheckResponse 存活探针响应
type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessCheckResponse 就绪探针响应
type ReadinessCheckResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HandleLiveness GET /health/live
func HandleLiveness(startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthCheckResponse{
			Status:    "ok",
			Service:   serviceName,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Timestamp: time.Now().UTC(),
		})
	}
}

// HandleReadiness GET /health/ready
// 并行探测数据库与对象存储，任一失败返回 503
func HandleReadiness(db *gorm.DB, objects storage.ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return store.Ping(gctx, db) })
		g.Go(func() error { return objects.Ping(gctx) })

		if err := g.Wait(); err != nil {
			c.JSON(http.StatusServiceUnavailable, ReadinessCheckResponse{
				Status:    "not_ready",
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
			return
		}
		c.JSON(http.StatusOK, ReadinessCheckResponse{
			Status:    "ready",
			Checks:    map[string]string{"database": "ok", "objectStorage": "ok"},
			Timestamp: time.Now().UTC(),
		})
	}
}
