// Package analytics 组织维度的扫码与存储统计
package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
)

const (
	timelineDays = 7
	topFileLimit = 5
	dateLayout   = "2006-01-02"
)

// Totals 汇总数字
type Totals struct {
	TotalMeetings  int64 `json:"totalMeetings"`
	ActiveMeetings int64 `json:"activeMeetings"`
	TotalScans     int64 `json:"totalScans"`
	StorageBytes   int64 `json:"storageBytes"`
}

// DayScans 单日扫码数
type DayScans struct {
	Date  string `json:"date"`
	Scans int64  `json:"scans"`
}

// MeetingRef 文件所属会议
type MeetingRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TopFile 最近更新的文件
type TopFile struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Meeting  MeetingRef `json:"meeting"`
	Versions int64      `json:"versions"`
}

// Overview 仪表盘概览
type Overview struct {
	Totals          Totals                  `json:"totals"`
	Timeline        []DayScans              `json:"timeline"`
	DeviceBreakdown map[models.Device]int64 `json:"deviceBreakdown"`
	TopFiles        []TopFile               `json:"topFiles"`
}

// Service 统计服务
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService 创建统计服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Overview 并行执行各项统计查询
func (s *Service) Overview(ctx context.Context, organizationID string) (*Overview, error) {
	now := s.now()
	out := &Overview{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		totals, err := s.totals(gctx, organizationID, now)
		out.Totals = totals
		return err
	})
	g.Go(func() error {
		timeline, err := s.timeline(gctx, organizationID, now)
		out.Timeline = timeline
		return err
	})
	g.Go(func() error {
		devices, err := s.devices(gctx, organizationID)
		out.DeviceBreakdown = devices
		return err
	})
	g.Go(func() error {
		top, err := s.topFiles(gctx, organizationID)
		out.TopFiles = top
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *Service) totals(ctx context.Context, organizationID string, now time.Time) (Totals, error) {
	var t Totals
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Meeting{}).Where("organization_id = ?", organizationID).Count(&t.TotalMeetings).Error; err != nil {
		return t, err
	}
	if err := db.Model(&models.Meeting{}).
		Where("organization_id = ? AND status = ?", organizationID, models.MeetingActive).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Count(&t.ActiveMeetings).Error; err != nil {
		return t, err
	}
	if err := db.Model(&models.ScanEvent{}).Where("organization_id = ?", organizationID).Count(&t.TotalScans).Error; err != nil {
		return t, err
	}
	if err := db.Model(&models.FileVersion{}).
		Joins("JOIN files ON files.id = file_versions.file_id").
		Where("files.organization_id = ? AND file_versions.status = ?", organizationID, models.VersionReady).
		Select("COALESCE(SUM(file_versions.size), 0)").
		Scan(&t.StorageBytes).Error; err != nil {
		return t, err
	}
	return t, nil
}

// timeline 最近 7 天（含今天，UTC）每日扫码数，无数据的日期补 0
func (s *Service) timeline(ctx context.Context, organizationID string, now time.Time) ([]DayScans, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := today.AddDate(0, 0, -(timelineDays - 1))

	var scannedAt []time.Time
	if err := s.db.WithContext(ctx).Model(&models.ScanEvent{}).
		Where("organization_id = ? AND scanned_at >= ?", organizationID, start).
		Pluck("scanned_at", &scannedAt).Error; err != nil {
		return nil, err
	}

	perDay := make(map[string]int64, timelineDays)
	for _, ts := range scannedAt {
		perDay[ts.UTC().Format(dateLayout)]++
	}
	out := make([]DayScans, 0, timelineDays)
	for i := 0; i < timelineDays; i++ {
		day := start.AddDate(0, 0, i).Format(dateLayout)
		out = append(out, DayScans{Date: day, Scans: perDay[day]})
	}
	return out, nil
}

func (s *Service) devices(ctx context.Context, organizationID string) (map[models.Device]int64, error) {
	var rows []struct {
		Device models.Device
		N      int64
	}
	if err := s.db.WithContext(ctx).Model(&models.ScanEvent{}).
		Select("device, COUNT(*) AS n").
		Where("organization_id = ?", organizationID).
		Group("device").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := map[models.Device]int64{
		models.DeviceMobile:  0,
		models.DeviceDesktop: 0,
		models.DeviceOther:   0,
	}
	for _, r := range rows {
		out[r.Device] += r.N
	}
	return out, nil
}

// topFiles 最近更新且至少有一个 READY 版本的文件
func (s *Service) topFiles(ctx context.Context, organizationID string) ([]TopFile, error) {
	db := s.db.WithContext(ctx)
	ready := db.Model(&models.FileVersion{}).Select("file_id").Where("status = ?", models.VersionReady)

	var rows []models.File
	if err := db.Where("organization_id = ? AND id IN (?)", organizationID, ready).
		Order("updated_at DESC").
		Limit(topFileLimit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []TopFile{}, nil
	}

	fileIDs := make([]string, 0, len(rows))
	meetingIDs := make([]string, 0, len(rows))
	for _, f := range rows {
		fileIDs = append(fileIDs, f.ID)
		meetingIDs = append(meetingIDs, f.MeetingID)
	}

	var counts []struct {
		FileID string
		N      int64
	}
	if err := db.Model(&models.FileVersion{}).
		Select("file_id, COUNT(*) AS n").
		Where("file_id IN ?", fileIDs).
		Group("file_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	versions := make(map[string]int64, len(counts))
	for _, c := range counts {
		versions[c.FileID] = c.N
	}

	var meetings []models.Meeting
	if err := db.Select("id", "title").Where("id IN ?", meetingIDs).Find(&meetings).Error; err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(meetings))
	for _, m := range meetings {
		titles[m.ID] = m.Title
	}

	out := make([]TopFile, 0, len(rows))
	for _, f := range rows {
		out = append(out, TopFile{
			ID:       f.ID,
			Name:     f.Name,
			Meeting:  MeetingRef{ID: f.MeetingID, Title: titles[f.MeetingID]},
			Versions: versions[f.ID],
		})
	}
	return out, nil
}
