// Package jobs 周期性维护任务
package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/files"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/pkg/metrics"
)

// sessionRetention 过期或吊销超过该时长的会话被清理
const sessionRetention = 7 * 24 * time.Hour

// Task 一个维护任务，返回受影响行数
type Task struct {
	Name        string
	Description string
	Handler     func(ctx context.Context) (int64, error)
}

// MaintenanceTasks 过期上传与陈旧会话清理
func MaintenanceTasks(db *gorm.DB, pendingTTL time.Duration, now func() time.Time) []Task {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return []Task{
		{
			Name:        "fail_stale_uploads",
			Description: "Mark PENDING file versions older than the upload TTL as FAILED",
			Handler: func(ctx context.Context) (int64, error) {
				return files.FailStalePending(ctx, db, now().Add(-pendingTTL))
			},
		},
		{
			Name:        "purge_sessions",
			Description: "Delete sessions expired or revoked more than 7 days ago",
			Handler: func(ctx context.Context) (int64, error) {
				return PurgeSessions(ctx, db, now().Add(-sessionRetention))
			},
		},
	}
}

// PurgeSessions 删除 cutoff 之前已过期或已吊销的会话
func PurgeSessions(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)", cutoff, cutoff).
		Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// Scheduler 以固定间隔运行维护任务
type Scheduler struct {
	scheduler *gocron.Scheduler
	tasks     []Task
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler 创建调度器，尚未启动
func NewScheduler(tasks []Task, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		tasks:     tasks,
		log:       log.With("component", "maintenance"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register 按 interval 注册全部任务；同一任务不会重叠执行
func (s *Scheduler) Register(interval time.Duration) error {
	for _, task := range s.tasks {
		task := task
		_, err := s.scheduler.Every(interval).Tag(task.Name).SingletonMode().Do(func() {
			s.run(s.ctx, task)
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", task.Name, err)
		}
		s.log.Info("task registered", "task", task.Name, "interval", interval.String())
	}
	return nil
}

// Start 异步启动
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop 停止调度并取消正在执行的任务
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.cancel()
}

// RunAll 立即顺序执行全部任务，返回每个任务的影响行数
func (s *Scheduler) RunAll(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(s.tasks))
	for _, task := range s.tasks {
		rows, err := s.run(ctx, task)
		if err != nil {
			return out, fmt.Errorf("%s: %w", task.Name, err)
		}
		out[task.Name] = rows
	}
	return out, nil
}

func (s *Scheduler) run(ctx context.Context, task Task) (int64, error) {
	start := time.Now()
	rows, err := task.Handler(ctx)
	if err != nil {
		s.log.Error("task failed", "task", task.Name, "error", err)
		return 0, err
	}
	metrics.RecordMaintenance(task.Name, rows)
	s.log.Info("task completed", "task", task.Name, "rows", rows, "duration", time.Since(start).String())
	return rows, nil
}
