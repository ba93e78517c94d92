package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpscan/internal/blob"
	"scalpscan/internal/keycodec"
	"scalpscan/internal/models"
	"scalpscan/internal/redis"
	"scalpscan/internal/storage"
)

type fakeBlobs struct {
	mu      sync.Mutex
	objects []blob.Object
	puts    []string
	failOn  int // 1-based put index that fails, 0 never
	lists   int
}

func (f *fakeBlobs) Put(_ context.Context, key, _ string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn > 0 && len(f.puts)+1 == f.failOn {
		return errors.New("backend unavailable")
	}
	f.puts = append(f.puts, key)
	f.objects = append(f.objects, blob.Object{Key: key, Size: int64(len(data))})
	return nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]blob.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	var out []blob.Object
	for _, o := range f.objects {
		if strings.HasPrefix(o.Key, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeBlobs) PublicURL(key string) string { return "https://cdn.test/" + key }

type fakeGuard struct {
	ensures int
	resets  int
	err     error
}

func (g *fakeGuard) Ensure(context.Context) error {
	g.ensures++
	return g.err
}

func (g *fakeGuard) Reset() { g.resets++ }

type fakePhotos struct {
	rows      map[string]storage.Photo
	insertErr error
}

func (p *fakePhotos) Insert(_ context.Context, photo storage.Photo) (*storage.Photo, error) {
	if p.insertErr != nil {
		return nil, p.insertErr
	}
	if p.rows == nil {
		p.rows = make(map[string]storage.Photo)
	}
	p.rows[photo.StoragePath] = photo
	return &photo, nil
}

func (p *fakePhotos) BySession(_ context.Context, sessionID string) (map[string]storage.Photo, error) {
	out := make(map[string]storage.Photo)
	for k, v := range p.rows {
		if v.SessionID == sessionID {
			out[k] = v
		}
	}
	return out, nil
}

type memCache struct {
	data map[string][]byte
	dels []string
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memCache) GetJSON(_ context.Context, key string, dst any) error {
	raw, ok := c.data[key]
	if !ok {
		return redis.ErrCacheMiss
	}
	return json.Unmarshal(raw, dst)
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.data, k)
		c.dels = append(c.dels, k)
	}
	return nil
}

func newTestService(blobs *fakeBlobs, guard *fakeGuard, opts Options) *Service {
	svc := NewService(blobs, guard, opts)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return svc
}

func pngFile(name string) FileInput {
	return FileInput{Name: name, Type: "image/png", Size: 4, Data: []byte("\x89PNG")}
}

func intPtr(v int) *int { return &v }

func TestUploadStoresFilesInOrder(t *testing.T) {
	blobs := &fakeBlobs{}
	guard := &fakeGuard{}
	photos := &fakePhotos{}
	cache := newMemCache()
	svc := newTestService(blobs, guard, Options{Photos: photos, Cache: cache})

	md := &models.Metadata{Age: intPtr(34), Gender: "female", Problem: "Łupież tłusty"}
	res, err := svc.Upload(context.Background(), UploadRequest{
		SessionID: " sess ",
		CaseID:    "case_7",
		Files:     []FileInput{pngFile("a.png"), {Name: "b.jpg", Type: "IMAGE/JPEG", Data: []byte("jpg")}},
		Metadata:  md,
	})
	require.NoError(t, err)
	require.NoError(t, res.MirrorErr)
	require.Len(t, res.Files, 2)

	assert.Equal(t, "sess", res.SessionID)
	assert.Equal(t, "a.png", res.Files[0].FileName)
	assert.Equal(t, "b.jpg", res.Files[1].FileName)
	assert.Equal(t, "image/jpeg", res.Files[1].MimeType)
	assert.True(t, res.Files[1].UploadedAt.After(res.Files[0].UploadedAt))
	assert.Equal(t, "sess/case_7_1700000000000_a_META_age34_genderfemale_problemŁupież_tłusty_.png", res.Files[0].StorageKey)
	assert.Equal(t, "https://cdn.test/"+res.Files[0].StorageKey, res.Files[0].PublicURL)

	assert.Equal(t, blobs.puts, []string{res.Files[0].StorageKey, res.Files[1].StorageKey})
	assert.Equal(t, 1, guard.ensures)
	assert.Len(t, photos.rows, 2)
	assert.Equal(t, []string{redis.ListingKey("sess")}, cache.dels)

	d := keycodec.Decode(res.Files[1].StorageKey)
	assert.Equal(t, "case_7", d.CaseID)
	assert.Equal(t, "b.jpg", d.FileName)
}

func TestUploadRejectsBeforeWriting(t *testing.T) {
	five := make([]FileInput, 5)
	for i := range five {
		five[i] = pngFile(fmt.Sprintf("%d.png", i))
	}
	big := pngFile("big.png")
	big.Data = make([]byte, 2<<20)

	cases := []struct {
		name string
		req  UploadRequest
		want error
	}{
		{"missing session", UploadRequest{Files: []FileInput{pngFile("a.png")}}, ErrMissingSession},
		{"no files", UploadRequest{SessionID: "s"}, ErrNoFiles},
		{"too many files", UploadRequest{SessionID: "s", Files: five}, ErrTooManyFiles},
		{"slash in session", UploadRequest{SessionID: "a/b", Files: []FileInput{pngFile("a.png")}}, ErrInvalidSession},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blobs := &fakeBlobs{}
			guard := &fakeGuard{}
			_, err := newTestService(blobs, guard, Options{}).Upload(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, IsClientError(err))
			assert.Empty(t, blobs.puts)
			assert.Zero(t, guard.ensures)
		})
	}

	invalid := []struct {
		name string
		req  UploadRequest
	}{
		{"gif", UploadRequest{SessionID: "s", Files: []FileInput{pngFile("ok.png"), {Name: "x.gif", Type: "image/gif", Data: []byte("GIF")}}}},
		{"oversize", UploadRequest{SessionID: "s", Files: []FileInput{big}}},
		{"declared oversize", UploadRequest{SessionID: "s", Files: []FileInput{{Name: "a.png", Type: "image/png", Size: 10 << 20, Data: []byte("x")}}}},
		{"empty data", UploadRequest{SessionID: "s", Files: []FileInput{{Name: "a.png", Type: "image/png"}}}},
		{"bad gender", UploadRequest{SessionID: "s", Files: []FileInput{pngFile("a.png")}, Metadata: &models.Metadata{Gender: "robot"}}},
		{"negative age", UploadRequest{SessionID: "s", Files: []FileInput{pngFile("a.png")}, Metadata: &models.Metadata{Age: intPtr(-1)}}},
		{"bad case", UploadRequest{SessionID: "s", CaseID: "x1", Files: []FileInput{pngFile("a.png")}}},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			blobs := &fakeBlobs{}
			_, err := newTestService(blobs, &fakeGuard{}, Options{MaxFileBytes: 1 << 20}).Upload(context.Background(), tc.req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Empty(t, blobs.puts)
		})
	}
}

func TestUploadNamesOffendingFile(t *testing.T) {
	_, err := newTestService(&fakeBlobs{}, &fakeGuard{}, Options{}).Upload(context.Background(), UploadRequest{
		SessionID: "s",
		Files:     []FileInput{{Name: "anim.gif", Type: "image/gif", Data: []byte("GIF")}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anim.gif")
}

func TestUploadMirrorFailureIsNotFatal(t *testing.T) {
	blobs := &fakeBlobs{}
	svc := newTestService(blobs, &fakeGuard{}, Options{Photos: &fakePhotos{insertErr: errors.New("db down")}})
	res, err := svc.Upload(context.Background(), UploadRequest{SessionID: "s", Files: []FileInput{pngFile("a.png")}})
	require.NoError(t, err)
	require.Error(t, res.MirrorErr)
	assert.Len(t, res.Files, 1)
	assert.Len(t, blobs.puts, 1)
}

func TestUploadStopsAtFirstStorageFailure(t *testing.T) {
	blobs := &fakeBlobs{failOn: 2}
	svc := newTestService(blobs, &fakeGuard{}, Options{})
	_, err := svc.Upload(context.Background(), UploadRequest{
		SessionID: "s",
		Files:     []FileInput{pngFile("a.png"), pngFile("b.png"), pngFile("c.png")},
	})
	require.Error(t, err)
	assert.False(t, IsClientError(err))
	assert.Contains(t, err.Error(), "backend unavailable")
	assert.Len(t, blobs.puts, 1)
}

func TestUploadPartialFailureInvalidatesListing(t *testing.T) {
	blobs := &fakeBlobs{failOn: 2}
	cache := newMemCache()
	svc := newTestService(blobs, &fakeGuard{}, Options{Cache: cache, ListingTTL: time.Minute})

	before, err := svc.List(context.Background(), "s")
	require.NoError(t, err)
	require.Empty(t, before.Files)

	_, err = svc.Upload(context.Background(), UploadRequest{
		SessionID: "s",
		Files:     []FileInput{pngFile("a.png"), pngFile("b.png")},
	})
	require.Error(t, err)
	assert.Equal(t, []string{redis.ListingKey("s")}, cache.dels)

	after, err := svc.List(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, after.Files, 1)
	assert.Equal(t, "a.png", after.Files[0].FileName)
}

func TestUploadFailureBeforeAnyWriteKeepsListing(t *testing.T) {
	cache := newMemCache()
	svc := newTestService(&fakeBlobs{failOn: 1}, &fakeGuard{}, Options{Cache: cache, ListingTTL: time.Minute})
	_, err := svc.Upload(context.Background(), UploadRequest{SessionID: "s", Files: []FileInput{pngFile("a.png")}})
	require.Error(t, err)
	assert.Empty(t, cache.dels)
}

func TestListRejectsNestedSession(t *testing.T) {
	blobs := &fakeBlobs{}
	_, err := newTestService(blobs, &fakeGuard{}, Options{}).List(context.Background(), "a/b")
	require.ErrorIs(t, err, ErrInvalidSession)
	assert.Zero(t, blobs.lists)
}

func TestUploadBucketFailure(t *testing.T) {
	blobs := &fakeBlobs{}
	guard := &fakeGuard{err: blob.ErrBucketMissing}
	_, err := newTestService(blobs, guard, Options{}).Upload(context.Background(), UploadRequest{
		SessionID: "s",
		Files:     []FileInput{pngFile("a.png")},
	})
	require.ErrorIs(t, err, blob.ErrBucketMissing)
	assert.Empty(t, blobs.puts)
}

func TestListEmptySession(t *testing.T) {
	listing, err := newTestService(&fakeBlobs{}, &fakeGuard{}, Options{}).List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, listing.Files)
	assert.Empty(t, listing.Files)
	assert.Empty(t, listing.Cases)

	raw, err := json.Marshal(listing)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"nobody","files":[]}`, string(raw))

	_, err = newTestService(&fakeBlobs{}, &fakeGuard{}, Options{}).List(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingSession)
}

func key(caseID string, ts int64, name string) string {
	return keycodec.Encode(keycodec.Key{SessionID: "sess", CaseID: caseID, Timestamp: ts, FileName: name})
}

func TestListGroupsCases(t *testing.T) {
	blobs := &fakeBlobs{objects: []blob.Object{
		{Key: key("case_1", 1700000003000, "c1-late.png")},
		{Key: key("case_2", 1700000002500, "c2-late.png")},
		{Key: key("case_1", 1700000001000, "c1-early.png")},
		{Key: key("case_2", 1700000002000, "c2-early.png")},
		{Key: key("", 1700000005000, "loose.png")},
		{Key: "other/1700000009000_elsewhere.png"},
	}}
	listing, err := newTestService(blobs, &fakeGuard{}, Options{}).List(context.Background(), "sess")
	require.NoError(t, err)

	names := make([]string, 0, len(listing.Files))
	for _, f := range listing.Files {
		names = append(names, f.FileName)
	}
	assert.Equal(t, []string{"loose.png", "c1-late.png", "c2-late.png", "c2-early.png", "c1-early.png"}, names)

	require.Len(t, listing.Cases, 3)
	assert.Equal(t, key("", 1700000005000, "loose.png"), listing.Cases[0].CaseID)
	assert.Equal(t, "case_2", listing.Cases[1].CaseID)
	assert.Equal(t, "case_1", listing.Cases[2].CaseID)

	c1 := listing.Cases[2]
	require.Len(t, c1.Files, 2)
	assert.Equal(t, "c1-early.png", c1.Files[0].FileName)
	assert.Equal(t, "c1-late.png", c1.Files[1].FileName)
	assert.Equal(t, int64(1700000001000), c1.UploadedAt.UnixMilli())
	assert.Equal(t, "image/png", c1.Files[0].MimeType)
}

func TestListWithoutCasesOmitsGrouping(t *testing.T) {
	blobs := &fakeBlobs{objects: []blob.Object{
		{Key: key("", 1700000001000, "a.png")},
		{Key: key("", 1700000002000, "b.jpg")},
	}}
	listing, err := newTestService(blobs, &fakeGuard{}, Options{}).List(context.Background(), "sess")
	require.NoError(t, err)
	assert.Nil(t, listing.Cases)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, "b.jpg", listing.Files[0].FileName)
	assert.Equal(t, "image/jpeg", listing.Files[0].MimeType)
}

func TestListPrefersRowMetadata(t *testing.T) {
	blobs := &fakeBlobs{}
	photos := &fakePhotos{}
	svc := newTestService(blobs, &fakeGuard{}, Options{Photos: photos})

	_, err := svc.Upload(context.Background(), UploadRequest{
		SessionID: "sess",
		Files:     []FileInput{pngFile("a.png")},
		Metadata:  &models.Metadata{Problem: "Łupież tłusty!!"},
	})
	require.NoError(t, err)
	blobs.objects = append(blobs.objects, blob.Object{Key: "sess/1690000000_legacy_META_gendermale_.png"})

	listing, err := svc.List(context.Background(), "sess")
	require.NoError(t, err)
	require.Len(t, listing.Files, 2)

	byName := map[string]models.UploadedFile{}
	for _, f := range listing.Files {
		byName[f.FileName] = f
	}
	require.NotNil(t, byName["a.png"].Metadata)
	assert.Equal(t, "Łupież tłusty!!", byName["a.png"].Metadata.Problem)
	require.NotNil(t, byName["legacy.png"].Metadata)
	assert.Equal(t, "male", byName["legacy.png"].Metadata.Gender)
	assert.Equal(t, int64(1690000000), byName["legacy.png"].UploadedAt.Unix())
}

func TestListUsesCacheUntilUpload(t *testing.T) {
	blobs := &fakeBlobs{objects: []blob.Object{{Key: key("", 1700000001000, "a.png")}}}
	cache := newMemCache()
	svc := newTestService(blobs, &fakeGuard{}, Options{Cache: cache, ListingTTL: time.Minute})

	first, err := svc.List(context.Background(), "sess")
	require.NoError(t, err)
	second, err := svc.List(context.Background(), "sess")
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.lists)
	assert.Equal(t, first.Files[0].StorageKey, second.Files[0].StorageKey)

	_, err = svc.Upload(context.Background(), UploadRequest{SessionID: "sess", Files: []FileInput{pngFile("b.png")}})
	require.NoError(t, err)
	third, err := svc.List(context.Background(), "sess")
	require.NoError(t, err)
	assert.Equal(t, 2, blobs.lists)
	assert.Len(t, third.Files, 2)
}
