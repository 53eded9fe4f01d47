package public

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/files"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/storage"
	"github.com/omniqr/scansuite/cmd/server/internal/testutil"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
)

type env struct {
	svc      *Service
	db       *gorm.DB
	fx       *testutil.Fixture
	issuer   *tokens.Issuer
	notifier *testutil.Notifier
}

var visitor = Visitor{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	fx := testutil.Seed(t, db)
	issuer := testutil.NewIssuer()
	notifier := &testutil.Notifier{}
	recorder := testutil.NewAudit(db)
	ledger := files.NewLedger(db, storage.NewMemoryStore("omniqr"), recorder, notifier, nil, files.Config{
		MaxFileSize:    10 << 20,
		UploadURLTTL:   15 * time.Minute,
		DownloadURLTTL: time.Minute,
	})
	return &env{
		svc:      NewService(db, issuer, ledger, recorder, notifier, nil),
		db:       db,
		fx:       fx,
		issuer:   issuer,
		notifier: notifier,
	}
}

func (e *env) claims(t *testing.T, m *models.Meeting) *tokens.PublicClaims {
	t.Helper()
	token, err := e.issuer.IssuePublic(m.ID, m.OrganizationID)
	require.NoError(t, err)
	claims, err := e.issuer.VerifyPublic(token)
	require.NoError(t, err)
	return claims
}

func TestClassifyDevice(t *testing.T) {
	assert.Equal(t, models.DeviceMobile, ClassifyDevice("Mozilla/5.0 (Linux; Android 14)"))
	assert.Equal(t, models.DeviceMobile, ClassifyDevice(visitor.UserAgent))
	assert.Equal(t, models.DeviceDesktop, ClassifyDevice("Mozilla/5.0 (Windows NT 10.0; Win64; x64)"))
	assert.Equal(t, models.DeviceDesktop, ClassifyDevice("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)"))
	assert.Equal(t, models.DeviceOther, ClassifyDevice("curl/8.4.0"))
}

func TestLookupPublicMeetingRecordsScan(t *testing.T) {
	e := newEnv(t)
	m := testutil.CreateMeeting(t, e.db, e.fx.Editor, "open-house", testutil.MeetingOptions{})
	testutil.CreateReadyFile(t, e.db, m, "agenda.pdf", 1)

	landing, err := e.svc.Lookup(context.Background(), "open-house", nil, visitor)
	require.NoError(t, err)
	assert.Equal(t, m.ID, landing.Meeting.ID)
	assert.Equal(t, models.AccessPublic, landing.Meeting.AccessType)
	assert.Equal(t, "Acme", landing.Organization.Name)
	assert.Equal(t, int64(1), landing.ScanCount)
	require.Len(t, landing.Files, 1)
	assert.Equal(t, "agenda.pdf", landing.Files[0].Name)

	var scan models.ScanEvent
	require.NoError(t, e.db.First(&scan).Error)
	assert.Equal(t, models.DeviceMobile, scan.Device)
	assert.Equal(t, "203.0.113.7", scan.IPAddress)

	events := e.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventScanUpdated, events[0].Name)
	assert.Equal(t, int64(1), events[0].Payload.(map[string]interface{})["scanCount"])
}

func TestLookupHidesPendingVersions(t *testing.T) {
	e := newEnv(t)
	m := testutil.CreateMeeting(t, e.db, e.fx.Editor, "pending", testutil.MeetingOptions{})
	f, _ := testutil.CreateReadyFile(t, e.db, m, "agenda.pdf", 1)
	require.NoError(t, e.db.Create(&models.FileVersion{
		FileID: f.ID, Version: 2, ObjectKey: "k2", MimeType: "application/pdf", Size: 9999,
		Status: models.VersionPending, CreatedByID: e.fx.Editor.ID,
	}).Error)
	other := &models.File{OrganizationID: m.OrganizationID, MeetingID: m.ID, Name: "draft.pdf", MimeType: "application/pdf", Size: 1, ObjectKey: "k3", CreatedByID: e.fx.Editor.ID}
	require.NoError(t, e.db.Create(other).Error)

	landing, err := e.svc.Lookup(context.Background(), "pending", nil, visitor)
	require.NoError(t, err)
	require.Len(t, landing.Files, 1)
	assert.Equal(t, 1, landing.Files[0].Version)
	assert.Equal(t, int64(1024), landing.Files[0].Size)
}

func TestLookupAvailability(t *testing.T) {
	e := newEnv(t)
	past := time.Now().UTC().Add(-time.Second)
	testutil.CreateMeeting(t, e.db, e.fx.Editor, "expired", testutil.MeetingOptions{ExpiresAt: &past})
	testutil.CreateMeeting(t, e.db, e.fx.Editor, "draft", testutil.MeetingOptions{Status: models.MeetingDraft})
	testutil.CreateMeeting(t, e.db, e.fx.Editor, "private", testutil.MeetingOptions{Policy: &models.AccessPolicy{AccessType: models.AccessPrivate}})
	future := time.Now().UTC().Add(time.Hour)
	testutil.CreateMeeting(t, e.db, e.fx.Editor, "later", testutil.MeetingOptions{Policy: &models.AccessPolicy{AccessType: models.AccessPublic, AccessStartsAt: &future}})

	cases := map[string]apperr.Kind{
		"missing": apperr.KindNotFound,
		"expired": apperr.KindGone,
		"draft":   apperr.KindForbidden,
		"private": apperr.KindForbidden,
		"later":   apperr.KindForbidden,
	}
	for slug, kind := range cases {
		_, err := e.svc.Lookup(context.Background(), slug, nil, visitor)
		assert.True(t, apperr.Is(err, kind), "%s: %v", slug, err)
	}

	var scans int64
	require.NoError(t, e.db.Model(&models.ScanEvent{}).Count(&scans).Error)
	assert.Zero(t, scans)
}

func TestLookupPasswordMeeting(t *testing.T) {
	e := newEnv(t)
	m := testutil.CreateMeeting(t, e.db, e.fx.Editor, "board", testutil.MeetingOptions{Password: "board-pass-1"})

	_, err := e.svc.Lookup(context.Background(), "board", nil, visitor)
	require.True(t, apperr.Is(err, apperr.KindPasswordRequired))
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, true, appErr.Details["requiresPassword"])
	assert.Equal(t, "board", appErr.Details["meeting"].(MeetingView).Slug)

	landing, err := e.svc.Lookup(context.Background(), "board", e.claims(t, m), visitor)
	require.NoError(t, err)
	assert.Equal(t, models.AccessPassword, landing.Meeting.AccessType)

	other := testutil.CreateMeeting(t, e.db, e.fx.Editor, "other", testutil.MeetingOptions{})
	_, err = e.svc.Lookup(context.Background(), "board", e.claims(t, other), visitor)
	assert.True(t, apperr.Is(err, apperr.KindPasswordRequired))
}

func TestVerify(t *testing.T) {
	e := newEnv(t)
	m := testutil.CreateMeeting(t, e.db, e.fx.Editor, "board", testutil.MeetingOptions{Password: "board-pass-1"})
	testutil.CreateMeeting(t, e.db, e.fx.Editor, "open", testutil.MeetingOptions{})

	_, err := e.svc.Verify(context.Background(), "board", VerifyInput{}, visitor)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = e.svc.Verify(context.Background(), "open", VerifyInput{Password: "whatever-pass"}, visitor)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = e.svc.Verify(context.Background(), "board", VerifyInput{Password: "wrong-password"}, visitor)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	token, err := e.svc.Verify(context.Background(), "board", VerifyInput{Password: "board-pass-1"}, visitor)
	require.NoError(t, err)
	claims, err := e.issuer.VerifyPublic(token)
	require.NoError(t, err)
	assert.Equal(t, m.ID, claims.MeetingID)
	assert.Equal(t, m.OrganizationID, claims.OrganizationID)

	assert.Equal(t, []string{"PUBLIC_ACCESS_VERIFIED"}, testutil.AuditActions(t, e.db, e.fx.Org.ID))
}

func TestVerifyOutsideWindowDenied(t *testing.T) {
	e := newEnv(t)
	ended := time.Now().UTC().Add(-time.Hour)
	testutil.CreateMeeting(t, e.db, e.fx.Editor, "closed", testutil.MeetingOptions{
		Password: "board-pass-1",
		Policy:   &models.AccessPolicy{AccessEndsAt: &ended},
	})

	_, err := e.svc.Verify(context.Background(), "closed", VerifyInput{Password: "board-pass-1"}, visitor)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestFileAccessURL(t *testing.T) {
	e := newEnv(t)
	open := testutil.CreateMeeting(t, e.db, e.fx.Editor, "open", testutil.MeetingOptions{})
	openFile, _ := testutil.CreateReadyFile(t, e.db, open, "agenda.pdf", 1)
	locked := testutil.CreateMeeting(t, e.db, e.fx.Editor, "locked", testutil.MeetingOptions{Password: "board-pass-1"})
	lockedFile, _ := testutil.CreateReadyFile(t, e.db, locked, "minutes.pdf", 3)

	dl, err := e.svc.FileAccessURL(context.Background(), openFile.ID, nil, visitor)
	require.NoError(t, err)
	assert.Equal(t, "agenda.pdf", dl.FileName)

	_, err = e.svc.FileAccessURL(context.Background(), lockedFile.ID, nil, visitor)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	dl, err = e.svc.FileAccessURL(context.Background(), lockedFile.ID, e.claims(t, locked), visitor)
	require.NoError(t, err)
	assert.Equal(t, 3, dl.Version)

	_, err = e.svc.FileAccessURL(context.Background(), openFile.ID, e.claims(t, locked), visitor)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	assert.Contains(t, testutil.AuditActions(t, e.db, e.fx.Org.ID), "PUBLIC_FILE_ACCESS")
}
