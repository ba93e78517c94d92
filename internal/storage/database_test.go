package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpscan/internal/config"
	"scalpscan/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := Open(ctx, "sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(ctx, db, "sqlite3"))
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"oracle": {DSN: "x"}}}
	_, err := Open(context.Background(), "oracle", cfg)
	require.Error(t, err)

	_, err = Open(context.Background(), "sqlite3", &config.Config{})
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(context.Background(), db, "sqlite3"))
	require.Error(t, Migrate(context.Background(), db, "postgres"))
}

func TestPhotoStoreInsertAndList(t *testing.T) {
	db := newTestDB(t)
	store := NewPhotoStore(db)
	ctx := context.Background()
	age := 34

	first, err := store.Insert(ctx, Photo{
		SessionID:   "sess",
		CaseID:      "case_1",
		FileName:    "a.jpg",
		StoragePath: "sess/case_1_1000_a.jpg",
		PublicURL:   "http://x/a",
		MimeType:    "image/jpeg",
		SizeBytes:   10,
		Metadata:    &models.Metadata{Age: &age, Gender: "female", Problem: "Łupież tłusty!!"},
		UploadedAt:  time.UnixMilli(1000),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = store.Insert(ctx, Photo{
		SessionID:   "sess",
		FileName:    "b.png",
		StoragePath: "sess/2000_b.png",
		MimeType:    "image/png",
		UploadedAt:  time.UnixMilli(2000),
	})
	require.NoError(t, err)

	_, err = store.Insert(ctx, Photo{SessionID: "other", FileName: "c.png", StoragePath: "other/1_c.png", MimeType: "image/png"})
	require.NoError(t, err)

	photos, err := store.ListBySession(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, "a.jpg", photos[0].FileName)
	require.NotNil(t, photos[0].Metadata)
	assert.Equal(t, 34, *photos[0].Metadata.Age)
	assert.Equal(t, "Łupież tłusty!!", photos[0].Metadata.Problem)
	assert.Equal(t, int64(1000), photos[0].UploadedAt.UnixMilli())
	assert.Nil(t, photos[1].Metadata)

	byPath, err := store.BySession(ctx, "sess")
	require.NoError(t, err)
	assert.Contains(t, byPath, "sess/2000_b.png")
}

func TestPhotoStoreRejectsDuplicatePath(t *testing.T) {
	store := NewPhotoStore(newTestDB(t))
	ctx := context.Background()
	p := Photo{SessionID: "s", FileName: "a.png", StoragePath: "s/1_a.png", MimeType: "image/png"}
	_, err := store.Insert(ctx, p)
	require.NoError(t, err)
	_, err = store.Insert(ctx, p)
	require.Error(t, err)

	_, err = store.Insert(ctx, Photo{SessionID: "s"})
	require.Error(t, err)
}
