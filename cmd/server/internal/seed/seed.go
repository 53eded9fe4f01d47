// Package seed 演示数据
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/meetings"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
)

// Options 演示数据参数
type Options struct {
	OrganizationName string
	OwnerEmail       string
	OwnerPassword    string
	MeetingTitle     string
	BcryptCost       int
}

// Result 种子结果；Created 为 false 表示数据已存在
type Result struct {
	Organization *models.Organization `json:"organization"`
	Owner        *models.User         `json:"owner"`
	MeetingSlug  string               `json:"meetingSlug,omitempty"`
	Created      bool                 `json:"created"`
}

// Demo 写入一个演示组织、OWNER 用户和一个公开的 ACTIVE 会议
// 按 owner 邮箱判重，重复执行不会产生新数据
func Demo(ctx context.Context, db *gorm.DB, recorder audit.Recorder, opts Options) (*Result, error) {
	email := strings.ToLower(strings.TrimSpace(opts.OwnerEmail))
	if email == "" || len(opts.OwnerPassword) < 12 {
		return nil, errors.New("owner email and a password of at least 12 characters are required")
	}

	var existing models.User
	err := db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		var org models.Organization
		if err := db.WithContext(ctx).First(&org, "id = ?", existing.OrganizationID).Error; err != nil {
			return nil, fmt.Errorf("load organization: %w", err)
		}
		return &Result{Organization: &org, Owner: &existing}, nil
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("lookup owner: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.OwnerPassword), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	org := &models.Organization{Name: opts.OrganizationName, PrimaryColor: models.DefaultPrimaryColor}
	owner := &models.User{Email: email, PasswordHash: string(hash), Role: models.RoleOwner}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		owner.OrganizationID = org.ID
		return tx.Create(owner).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}

	svc := meetings.NewService(db, recorder, realtime.Discard, nil, opts.BcryptCost)
	meeting, err := svc.Create(ctx, org.ID, owner.ID, meetings.CreateInput{
		Title:        opts.MeetingTitle,
		AccessPolicy: &meetings.PolicyInput{AccessType: models.AccessPublic},
	})
	if err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}

	return &Result{Organization: org, Owner: owner, MeetingSlug: meeting.Slug, Created: true}, nil
}
