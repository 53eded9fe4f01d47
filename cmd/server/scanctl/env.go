package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/config"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
	"github.com/omniqr/scansuite/pkg/logger"
)

// addGlobalFlags 注册全局标志
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "YAML 配置文件 (等同 CONFIG_FILE)")
	cmd.PersistentFlags().StringP("output", "o", "text", "输出格式: text, json")
}

// environment 一次命令执行所需的配置、日志与数据库
type environment struct {
	cfg    *config.Config
	log    *slog.Logger
	db     *gorm.DB
	output string
}

// openEnvironment 加载配置（标志 > 环境变量 > 配置文件）并打开数据库
func openEnvironment(cmd *cobra.Command) (*environment, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		Format:      cfg.Log.Format,
		File:        cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With("component", "scanctl")

	db, err := store.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	output, _ := cmd.Flags().GetString("output")
	return &environment{cfg: cfg, log: log, db: db, output: output}, nil
}

func (e *environment) close() {
	if err := store.Close(e.db); err != nil {
		e.log.Warn("close database", "error", err)
	}
}
