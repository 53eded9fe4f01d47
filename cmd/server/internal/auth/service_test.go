package auth

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/apperr"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
	"github.com/omniqr/scansuite/cmd/server/internal/testutil"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
)

var meta = ClientMeta{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0 (Macintosh)"}

func newTestService(t *testing.T) (*Service, *gorm.DB, *testutil.Fixture) {
	t.Helper()
	db := testutil.NewDB(t)
	fx := testutil.Seed(t, db)
	svc := NewService(db, testutil.NewIssuer(), testutil.NewAudit(db), nil, bcrypt.MinCost)
	return svc, db, fx
}

func loadSession(t *testing.T, db *gorm.DB, id string) models.Session {
	t.Helper()
	var s models.Session
	require.NoError(t, db.First(&s, "id = ?", id).Error)
	return s
}

func TestRegisterCreatesOrganizationAndOwner(t *testing.T) {
	svc, db, _ := newTestService(t)

	res, err := svc.Register(context.Background(), RegisterInput{
		Name: "Ada", Email: "  Ada@Example.com ", Password: "a-long-password-123",
	}, meta)
	require.NoError(t, err)

	assert.Equal(t, "Ada's Organization", res.Organization.Name)
	assert.Equal(t, models.DefaultPrimaryColor, res.Organization.PrimaryColor)
	assert.Equal(t, models.RoleOwner, res.User.Role)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.Equal(t, res.Organization.ID, res.User.OrganizationID)

	session := loadSession(t, db, res.SessionID)
	assert.Equal(t, tokens.HashToken(res.RefreshToken), session.RefreshTokenHash)
	assert.NotEqual(t, res.RefreshToken, session.RefreshTokenHash)
	assert.Equal(t, meta.IPAddress, session.IPAddress)

	assert.Equal(t, []string{"AUTH_REGISTER"}, testutil.AuditActions(t, db, res.Organization.ID))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, fx := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterInput{
		Name: "Dup", Email: fx.Owner.Email, Password: "a-long-password-123",
	}, meta)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestLogin(t *testing.T) {
	svc, db, fx := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, LoginInput{Email: fx.Editor.Email, Password: testutil.Password}, meta)
	require.NoError(t, err)
	assert.Equal(t, fx.Editor.ID, res.User.ID)
	assert.Equal(t, fx.Org.ID, res.Organization.ID)

	claims, err := testutil.NewIssuer().VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, claims.Role)

	_, err = svc.Login(ctx, LoginInput{Email: fx.Editor.Email, Password: "wrong-password"}, meta)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = svc.Login(ctx, LoginInput{Email: "nobody@acme.test", Password: testutil.Password}, meta)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	assert.Contains(t, testutil.AuditActions(t, db, fx.Org.ID), "AUTH_LOGIN")
}

func TestRefreshRotatesAndReplayRevokes(t *testing.T) {
	svc, db, fx := newTestService(t)
	ctx := context.Background()

	first, err := svc.Login(ctx, LoginInput{Email: fx.Viewer.Email, Password: testutil.Password}, meta)
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken, meta)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, tokens.HashToken(second.RefreshToken), loadSession(t, db, first.SessionID).RefreshTokenHash)

	// 旧令牌再次出现：拒绝并吊销会话
	_, err = svc.Refresh(ctx, first.RefreshToken, meta)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.NotNil(t, loadSession(t, db, first.SessionID).RevokedAt)

	// 合法持有者的新令牌同样失效
	_, err = svc.Refresh(ctx, second.RefreshToken, meta)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	assert.Contains(t, testutil.AuditActions(t, db, fx.Org.ID), "AUTH_REFRESH_REPLAY")
}

func TestRefreshRejectsWrongTokenType(t *testing.T) {
	svc, _, fx := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, LoginInput{Email: fx.Owner.Email, Password: testutil.Password}, meta)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, res.AccessToken, meta)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = svc.Refresh(ctx, "", meta)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestRefreshRejectsExpiredSession(t *testing.T) {
	svc, db, fx := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, LoginInput{Email: fx.Owner.Email, Password: testutil.Password}, meta)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", res.SessionID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, err = svc.Refresh(ctx, res.RefreshToken, meta)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Nil(t, loadSession(t, db, res.SessionID).RevokedAt, "expired session is rejected, not revoked")
}

func TestLogout(t *testing.T) {
	svc, db, fx := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, LoginInput{Email: fx.Owner.Email, Password: testutil.Password}, meta)
	require.NoError(t, err)

	svc.Logout(ctx, res.RefreshToken)
	assert.NotNil(t, loadSession(t, db, res.SessionID).RevokedAt)

	_, err = svc.Refresh(ctx, res.RefreshToken, meta)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	assert.NotPanics(t, func() {
		svc.Logout(ctx, "garbage")
		svc.Logout(ctx, "")
		svc.Logout(ctx, res.RefreshToken)
	})
}

func TestMe(t *testing.T) {
	svc, _, fx := newTestService(t)
	ctx := context.Background()

	user, org, err := svc.Me(ctx, fx.Admin.ID, fx.Org.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.Admin.Email, user.Email)
	assert.Equal(t, fx.Org.Name, org.Name)

	_, _, err = svc.Me(ctx, fx.Admin.ID, fx.OtherOrg.ID)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 8))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	// "é" 占两个字节，第 3 字节处截断会落在字符中间
	assert.Equal(t, "ab", truncate("abé", 3))
	assert.Equal(t, "", truncate("界", 2))
}

func TestLoginStoresValidUserAgent(t *testing.T) {
	svc, db, fx := newTestService(t)

	ua := "Mozilla/5.0 " + strings.Repeat("界", 200)
	res, err := svc.Login(context.Background(), LoginInput{Email: fx.Owner.Email, Password: testutil.Password},
		ClientMeta{IPAddress: meta.IPAddress, UserAgent: ua})
	require.NoError(t, err)

	stored := loadSession(t, db, res.SessionID).UserAgent
	assert.LessOrEqual(t, len(stored), 512)
	assert.True(t, utf8.ValidString(stored))
	assert.True(t, strings.HasPrefix(ua, stored))
}
