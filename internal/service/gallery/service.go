// Package gallery stores session photographs and lists them back grouped
// into examination cases.
package gallery

import (
	"context"
	"log/slog"
	"time"

	"scalpscan/internal/blob"
	"scalpscan/internal/config"
	"scalpscan/internal/storage"
)

// BlobStore is the object storage the gallery writes to.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	List(ctx context.Context, prefix string) ([]blob.Object, error)
	PublicURL(key string) string
}

// BucketGuard makes sure the bucket exists before the first write.
type BucketGuard interface {
	Ensure(ctx context.Context) error
	Reset()
}

// PhotoStore mirrors file metadata into a relational table.
type PhotoStore interface {
	Insert(ctx context.Context, p storage.Photo) (*storage.Photo, error)
	BySession(ctx context.Context, sessionID string) (map[string]storage.Photo, error)
}

// Cache holds rendered listings.
type Cache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) error
	Del(ctx context.Context, keys ...string) error
}

// Options carries the optional collaborators. Nil fields disable the feature.
type Options struct {
	Photos       PhotoStore
	Cache        Cache
	ListingTTL   time.Duration
	MaxFiles     int
	MaxFileBytes int64
	Logger       *slog.Logger
}

// Service implements upload and listing.
type Service struct {
	blobs        BlobStore
	bucket       BucketGuard
	photos       PhotoStore
	cache        Cache
	listingTTL   time.Duration
	maxFiles     int
	maxFileBytes int64
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(blobs BlobStore, bucket BucketGuard, opts Options) *Service {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = config.DefaultMaxFiles
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = config.DefaultMaxFileBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		blobs:        blobs,
		bucket:       bucket,
		photos:       opts.Photos,
		cache:        opts.Cache,
		listingTTL:   opts.ListingTTL,
		maxFiles:     opts.MaxFiles,
		maxFileBytes: opts.MaxFileBytes,
		logger:       opts.Logger.With("component", "gallery"),
		now:          time.Now,
	}
}
