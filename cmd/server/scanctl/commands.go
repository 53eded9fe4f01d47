package main

import (
	"github.com/spf13/cobra"

	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/jobs"
	"github.com/omniqr/scansuite/cmd/server/internal/seed"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			if err := store.Migrate(env.db); err != nil {
				return err
			}
			return printOutput(env.output, map[string]interface{}{
				"status": "migrated",
				"driver": env.cfg.Database.Driver,
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "seed",
		Short: "写入演示组织、OWNER 用户和一个公开会议",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			if err := store.Migrate(env.db); err != nil {
				return err
			}
			opts := seed.Options{BcryptCost: env.cfg.Security.BcryptCost}
			opts.OrganizationName, _ = cmd.Flags().GetString("org-name")
			opts.OwnerEmail, _ = cmd.Flags().GetString("email")
			opts.OwnerPassword, _ = cmd.Flags().GetString("password")
			opts.MeetingTitle, _ = cmd.Flags().GetString("meeting-title")

			res, err := seed.Demo(cmd.Context(), env.db, audit.NewDBRecorder(env.db, env.log, nil), opts)
			if err != nil {
				return err
			}
			return printOutput(env.output, map[string]interface{}{
				"created":        res.Created,
				"organizationId": res.Organization.ID,
				"ownerEmail":     res.Owner.Email,
				"meetingSlug":    res.MeetingSlug,
			})
		},
	}
	c.Flags().String("org-name", "Demo Organization", "组织名称")
	c.Flags().String("email", "owner@example.com", "OWNER 邮箱")
	c.Flags().String("password", "", "OWNER 密码 (至少 12 位)")
	c.Flags().String("meeting-title", "Welcome Meeting", "演示会议标题")
	_ = c.MarkFlagRequired("password")
	return c
}

func newMaintenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "立即执行一次全部维护任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			scheduler := jobs.NewScheduler(jobs.MaintenanceTasks(env.db, env.cfg.Maintenance.PendingUploadTTL, nil), env.log)
			rows, err := scheduler.RunAll(cmd.Context())
			if err != nil {
				return err
			}
			out := make(map[string]interface{}, len(rows))
			for name, n := range rows {
				out[name] = n
			}
			return printOutput(env.output, out)
		},
	}
}
