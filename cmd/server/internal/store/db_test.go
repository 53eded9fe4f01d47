package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/omniqr/scansuite/cmd/server/internal/config"
	"github.com/omniqr/scansuite/cmd/server/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "test.db"),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql", URL: "x"}, nil)
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, Ping(context.Background(), db))
}

func TestUniqueFileVersionConstraint(t *testing.T) {
	db := openTestDB(t)

	v1 := &models.FileVersion{FileID: "file-1", Version: 1, ObjectKey: "k1", MimeType: "application/pdf", Status: models.VersionPending, CreatedByID: "u"}
	require.NoError(t, db.Create(v1).Error)
	assert.NotEmpty(t, v1.ID)

	dup := &models.FileVersion{FileID: "file-1", Version: 1, ObjectKey: "k2", MimeType: "application/pdf", Status: models.VersionPending, CreatedByID: "u"}
	err := db.Create(dup).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestAuditMetadataRoundTrip(t *testing.T) {
	db := openTestDB(t)

	entry := &models.AuditLog{
		OrganizationID: "org-1",
		Action:         "FILE_PRESIGN",
		EntityType:     "FileVersion",
		EntityID:       "v-1",
		Metadata:       map[string]interface{}{"version": 2, "name": "deck.pdf"},
	}
	require.NoError(t, db.Create(entry).Error)

	var loaded models.AuditLog
	require.NoError(t, db.First(&loaded, "id = ?", entry.ID).Error)
	assert.Equal(t, "deck.pdf", loaded.Metadata["name"])
	assert.EqualValues(t, 2, loaded.Metadata["version"])
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: files.name")))
	assert.False(t, IsUniqueViolation(errors.New("connection reset")))
}
