package tokens

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniqr/scansuite/cmd/server/internal/models"
)

func newTestIssuer() *Issuer {
	return NewIssuer(Config{
		AccessSecret:  "access-secret-access-secret-0123456789",
		RefreshSecret: "refresh-secret-refresh-secret-0123456789",
		PublicSecret:  "public-secret-public-secret-0123456789",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
		PublicTTL:     10 * time.Minute,
	})
}

func TestAccessRoundTrip(t *testing.T) {
	iss := newTestIssuer()
	tok, err := iss.IssueAccess("user-1", "org-1", models.RoleEditor, "a@example.com")
	require.NoError(t, err)

	claims, err := iss.VerifyAccess(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "org-1", claims.OrganizationID)
	assert.Equal(t, models.RoleEditor, claims.Role)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, TypeAccess, claims.Type)
}

func TestAccessRejectsUnknownRole(t *testing.T) {
	iss := newTestIssuer()
	for _, role := range []models.Role{"", "GUEST", "owner"} {
		tok, err := iss.IssueAccess("user-1", "org-1", role, "a@example.com")
		require.NoError(t, err)
		_, err = iss.VerifyAccess(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "role %q", role)
	}
}

func TestRefreshRoundTrip(t *testing.T) {
	iss := newTestIssuer()
	tok, err := iss.IssueRefresh("user-1", "org-1", "session-1")
	require.NoError(t, err)

	claims, err := iss.VerifyRefresh(tok)
	require.NoError(t, err)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, TypeRefresh, claims.Type)
}

func TestPublicRoundTrip(t *testing.T) {
	iss := newTestIssuer()
	tok, err := iss.IssuePublic("meeting-1", "org-1")
	require.NoError(t, err)

	claims, err := iss.VerifyPublic(tok)
	require.NoError(t, err)
	assert.Equal(t, "meeting-1", claims.MeetingID)
	assert.Equal(t, "org-1", claims.OrganizationID)
}

func TestCrossTypeRejected(t *testing.T) {
	iss := newTestIssuer()
	access, err := iss.IssueAccess("user-1", "org-1", models.RoleOwner, "a@example.com")
	require.NoError(t, err)
	public, err := iss.IssuePublic("meeting-1", "org-1")
	require.NoError(t, err)

	_, err = iss.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = iss.VerifyAccess(public)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDiscriminantCheckedWithSharedSecret(t *testing.T) {
	shared := "shared-secret-shared-secret-0123456789"
	iss := NewIssuer(Config{
		AccessSecret: shared, RefreshSecret: shared, PublicSecret: shared,
		AccessTTL: time.Minute, RefreshTTL: time.Minute, PublicTTL: time.Minute,
	})
	refresh, err := iss.IssueRefresh("user-1", "org-1", "session-1")
	require.NoError(t, err)

	_, err = iss.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = iss.VerifyPublic(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredRejected(t *testing.T) {
	iss := newTestIssuer()
	issuedAt := time.Now().Add(-time.Hour)
	iss.WithClock(func() time.Time { return issuedAt })
	tok, err := iss.IssuePublic("meeting-1", "org-1")
	require.NoError(t, err)

	iss.WithClock(time.Now)
	_, err = iss.VerifyPublic(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTamperedAndForeignTokensRejected(t *testing.T) {
	iss := newTestIssuer()
	tok, err := iss.IssuePublic("meeting-1", "org-1")
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = iss.VerifyPublic(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = iss.VerifyPublic("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, PublicClaims{MeetingID: "meeting-1", Type: TypePublic})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.VerifyPublic(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshTokensAreUnique(t *testing.T) {
	iss := newTestIssuer()
	a, err := iss.IssueRefresh("user-1", "org-1", "session-1")
	require.NoError(t, err)
	b, err := iss.IssueRefresh("user-1", "org-1", "session-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, HashToken(a), HashToken(b))
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
	assert.Equal(t, h, HashToken("abc"))
}
