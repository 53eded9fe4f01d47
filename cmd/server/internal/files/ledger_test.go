package files

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/storage"
	"github.com/omniqr/scansuite/cmd/server/internal/testutil"
)

const sha = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type ledgerEnv struct {
	ledger   *Ledger
	objects  *storage.MemoryStore
	notifier *testutil.Notifier
	fx       *testutil.Fixture
	meeting  *models.Meeting
}

func newLedgerEnv(t *testing.T) *ledgerEnv {
	t.Helper()
	db := testutil.NewDB(t)
	fx := testutil.Seed(t, db)
	objects := storage.NewMemoryStore("omniqr")
	notifier := &testutil.Notifier{}
	ledger := NewLedger(db, objects, testutil.NewAudit(db), notifier, nil, Config{
		MaxFileSize:    10 * 1024 * 1024,
		UploadURLTTL:   15 * time.Minute,
		DownloadURLTTL: time.Minute,
	})
	return &ledgerEnv{
		ledger:   ledger,
		objects:  objects,
		notifier: notifier,
		fx:       fx,
		meeting:  testutil.CreateMeeting(t, db, fx.Editor, "board-review", testutil.MeetingOptions{}),
	}
}

func (e *ledgerEnv) presign(t *testing.T, name string, size int64) *PresignResult {
	t.Helper()
	res, err := e.ledger.Presign(context.Background(), e.fx.Org.ID, e.fx.Editor.ID, PresignInput{
		MeetingID: e.meeting.ID,
		FileName:  name,
		MimeType:  "application/pdf",
		Size:      size,
		SHA256:    sha,
	})
	require.NoError(t, err)
	return res
}

func (e *ledgerEnv) complete(t *testing.T, res *PresignResult, size int64) *CompleteResult {
	t.Helper()
	out, err := e.ledger.Complete(context.Background(), e.fx.Org.ID, e.fx.Editor.ID, res.FileID, CompleteInput{
		VersionID: res.VersionID,
		Size:      size,
		MimeType:  "application/pdf",
		SHA256:    sha,
	})
	require.NoError(t, err)
	return out
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "Q3-deck--final-.pdf", SanitizeFileName("Q3 deck (final).pdf"))
	assert.Len(t, SanitizeFileName(strings.Repeat("a", 300)), 220)

	key := BuildObjectKey("org", "meet", "file", 2, "a b.pdf")
	assert.True(t, strings.HasPrefix(key, "org/meet/file/v2/"))
	assert.True(t, strings.HasSuffix(key, "-a-b.pdf"))
}

func TestPresignThenCompleteCreatesVersions(t *testing.T) {
	e := newLedgerEnv(t)

	first := e.presign(t, "deck.pdf", 100)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "PUT", first.Upload.Method)
	assert.Equal(t, 900, first.Upload.ExpiresInSeconds)
	assert.True(t, strings.HasPrefix(first.ObjectKey, e.fx.Org.ID+"/"+e.meeting.ID+"/"+first.FileID+"/v1/"))

	done := e.complete(t, first, 100)
	assert.Equal(t, models.VersionReady, done.Status)

	second := e.presign(t, "deck.pdf", 200)
	assert.Equal(t, first.FileID, second.FileID)
	assert.Equal(t, 2, second.Version)
	assert.NotEqual(t, first.ObjectKey, second.ObjectKey)
	e.complete(t, second, 200)

	assert.Equal(t, []string{
		realtime.EventFileAdded, realtime.EventMeetingUpdated,
		realtime.EventFileVersioned, realtime.EventMeetingUpdated,
	}, e.notifier.Names())

	var file models.File
	require.NoError(t, e.ledger.db.First(&file, "id = ?", first.FileID).Error)
	assert.Equal(t, int64(200), file.Size)
	assert.Equal(t, second.ObjectKey, file.ObjectKey)

	put := e.objects.Issued()[0]
	assert.Equal(t, "PUT", put.Method)
	assert.Equal(t, "application/pdf", put.ContentType)
	assert.Equal(t, int64(100), put.Size)
}

func TestCompleteIsIdempotent(t *testing.T) {
	e := newLedgerEnv(t)
	res := e.presign(t, "deck.pdf", 100)
	e.complete(t, res, 100)
	again := e.complete(t, res, 100)

	assert.Equal(t, models.VersionReady, again.Status)
	assert.Len(t, e.notifier.Names(), 2)
}

func TestOlderVersionCompletingLateDoesNotOverrideCurrent(t *testing.T) {
	e := newLedgerEnv(t)
	v1 := e.presign(t, "deck.pdf", 100)
	v2 := e.presign(t, "deck.pdf", 200)

	e.complete(t, v2, 200)
	e.complete(t, v1, 100)

	var file models.File
	require.NoError(t, e.ledger.db.First(&file, "id = ?", v1.FileID).Error)
	assert.Equal(t, int64(200), file.Size)
	assert.Equal(t, v2.ObjectKey, file.ObjectKey)

	dl, err := e.ledger.DownloadURL(context.Background(), e.fx.Org.ID, e.fx.Viewer.ID, v1.FileID)
	require.NoError(t, err)
	assert.Equal(t, 2, dl.Version)
}

func TestCompleteFailedVersionConflicts(t *testing.T) {
	e := newLedgerEnv(t)
	res := e.presign(t, "deck.pdf", 100)

	n, err := FailStalePending(context.Background(), e.ledger.db, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.ledger.Complete(context.Background(), e.fx.Org.ID, e.fx.Editor.ID, res.FileID, CompleteInput{
		VersionID: res.VersionID, Size: 100, MimeType: "application/pdf", SHA256: sha,
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Empty(t, e.notifier.Names())
}

func TestConcurrentPresignAssignsDistinctVersions(t *testing.T) {
	e := newLedgerEnv(t)
	e.presign(t, "deck.pdf", 10)

	const workers = 5
	var wg sync.WaitGroup
	versions := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.ledger.Presign(context.Background(), e.fx.Org.ID, e.fx.Editor.ID, PresignInput{
				MeetingID: e.meeting.ID, FileName: "deck.pdf", MimeType: "application/pdf", Size: 10, SHA256: sha,
			})
			if err == nil {
				versions <- res.Version
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := map[int]bool{}
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	assert.NotEmpty(t, seen)

	var files int64
	require.NoError(t, e.ledger.db.Model(&models.File{}).Count(&files).Error)
	assert.Equal(t, int64(1), files)
}

func TestConcurrentPresignOfNewFileCreatesSingleIdentity(t *testing.T) {
	e := newLedgerEnv(t)

	const workers = 2
	var wg sync.WaitGroup
	versions := make(chan int, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := e.ledger.Presign(context.Background(), e.fx.Org.ID, e.fx.Editor.ID, PresignInput{
				MeetingID: e.meeting.ID, FileName: "minutes.pdf", MimeType: "application/pdf", Size: 10, SHA256: sha,
			})
			if err == nil {
				versions <- res.Version
			}
		}()
	}
	close(start)
	wg.Wait()
	close(versions)

	ones := 0
	for v := range versions {
		if v == 1 {
			ones++
		}
	}
	assert.LessOrEqual(t, ones, 1, "version 1 handed out more than once")

	var files []models.File
	require.NoError(t, e.ledger.db.Where("meeting_id = ? AND name = ?", e.meeting.ID, "minutes.pdf").Find(&files).Error)
	require.Len(t, files, 1)

	var firstVersions int64
	require.NoError(t, e.ledger.db.Model(&models.FileVersion{}).
		Where("file_id = ? AND version = ?", files[0].ID, 1).
		Count(&firstVersions).Error)
	assert.Equal(t, int64(1), firstVersions)
}

func TestPresignRetriesAfterVersionConflict(t *testing.T) {
	e := newLedgerEnv(t)
	db := e.ledger.db

	// 第一次插入版本前，在同一事务内抢先写入相同 (file_id, version)
	clashes := 0
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:clash_version", func(tx *gorm.DB) {
		v, ok := tx.Statement.Dest.(*models.FileVersion)
		if !ok || clashes > 0 {
			return
		}
		clashes++
		err := tx.Session(&gorm.Session{NewDB: true}).Create(&models.FileVersion{
			FileID: v.FileID, Version: v.Version, ObjectKey: "clash", MimeType: v.MimeType,
			Size: v.Size, Status: models.VersionPending, CreatedByID: v.CreatedByID,
		}).Error
		require.NoError(t, err)
	}))

	res := e.presign(t, "agenda.pdf", 10)
	assert.Equal(t, 1, clashes)
	assert.Equal(t, 1, res.Version)

	var files, versions int64
	require.NoError(t, db.Model(&models.File{}).Count(&files).Error)
	require.NoError(t, db.Model(&models.FileVersion{}).Count(&versions).Error)
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(1), versions)

	var stored models.FileVersion
	require.NoError(t, db.First(&stored, "id = ?", res.VersionID).Error)
	assert.Equal(t, res.FileID, stored.FileID)
	assert.NotEqual(t, "clash", stored.ObjectKey)
}

func TestPresignRejectsOversizeBeforeStorage(t *testing.T) {
	e := newLedgerEnv(t)
	_, err := e.ledger.Presign(context.Background(), e.fx.Org.ID, e.fx.Editor.ID, PresignInput{
		MeetingID: e.meeting.ID, FileName: "huge.bin", MimeType: "application/octet-stream", Size: 11 * 1024 * 1024, SHA256: sha,
	})
	assert.True(t, apperr.Is(err, apperr.KindTooLarge))
	assert.Empty(t, e.objects.Issued())
}

func TestPresignCrossTenantIsNotFound(t *testing.T) {
	e := newLedgerEnv(t)
	_, err := e.ledger.Presign(context.Background(), e.fx.OtherOrg.ID, e.fx.Outsider.ID, PresignInput{
		MeetingID: e.meeting.ID, FileName: "deck.pdf", MimeType: "application/pdf", Size: 10, SHA256: sha,
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	res := e.presign(t, "deck.pdf", 10)
	e.complete(t, res, 10)
	_, err = e.ledger.DownloadURL(context.Background(), e.fx.OtherOrg.ID, e.fx.Outsider.ID, res.FileID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = e.ledger.Complete(context.Background(), e.fx.OtherOrg.ID, e.fx.Outsider.ID, res.FileID, CompleteInput{
		VersionID: res.VersionID, Size: 10, MimeType: "application/pdf", SHA256: sha,
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestPresignStorageFailureMarksVersionFailed(t *testing.T) {
	e := newLedgerEnv(t)
	e.objects.FailNextPresign(errors.New("minio down"))

	_, err := e.ledger.Presign(context.Background(), e.fx.Org.ID, e.fx.Editor.ID, PresignInput{
		MeetingID: e.meeting.ID, FileName: "deck.pdf", MimeType: "application/pdf", Size: 10, SHA256: sha,
	})
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))

	var version models.FileVersion
	require.NoError(t, e.ledger.db.First(&version).Error)
	assert.Equal(t, models.VersionFailed, version.Status)

	next := e.presign(t, "deck.pdf", 10)
	assert.Equal(t, 2, next.Version)
}

func TestDownloadRequiresReadyVersion(t *testing.T) {
	e := newLedgerEnv(t)
	res := e.presign(t, "deck.pdf", 10)

	_, err := e.ledger.DownloadURL(context.Background(), e.fx.Org.ID, e.fx.Viewer.ID, res.FileID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	e.complete(t, res, 10)
	dl, err := e.ledger.DownloadURL(context.Background(), e.fx.Org.ID, e.fx.Viewer.ID, res.FileID)
	require.NoError(t, err)
	assert.Equal(t, "deck.pdf", dl.FileName)
	assert.Equal(t, 60, dl.ExpiresInSeconds)

	issued := e.objects.Issued()
	get := issued[len(issued)-1]
	assert.Equal(t, "GET", get.Method)
	assert.Equal(t, "deck.pdf", get.Filename)

	assert.Contains(t, testutil.AuditActions(t, e.ledger.db, e.fx.Org.ID), "FILE_DOWNLOAD")
}

func TestPublicDownloadScopedToMeeting(t *testing.T) {
	e := newLedgerEnv(t)
	res := e.presign(t, "deck.pdf", 10)
	e.complete(t, res, 10)

	_, err := e.ledger.PublicDownloadURL(context.Background(), e.fx.Org.ID, "00000000-0000-0000-0000-000000000000", res.FileID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	dl, err := e.ledger.PublicDownloadURL(context.Background(), e.fx.Org.ID, e.meeting.ID, res.FileID)
	require.NoError(t, err)
	assert.Equal(t, res.FileID, dl.FileID)
}
