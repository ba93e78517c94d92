// Package blob stores uploaded photographs in an S3-compatible bucket.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"scalpscan/internal/config"
)

// ErrBucketMissing is returned when the bucket does not exist and the
// service is not allowed to create it.
var ErrBucketMissing = errors.New("storage bucket does not exist")

// ErrBucketForbidden is returned when the credentials may not access the bucket.
var ErrBucketForbidden = errors.New("no permission to access storage bucket")

const cacheControl = "max-age=3600"

// Object is one listed entry of the bucket.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// S3Store talks to a single bucket.
type S3Store struct {
	client       *s3.Client
	bucket       string
	region       string
	endpoint     string
	publicBase   string
	publicRead   bool
	createBucket bool
}

// NewS3Store builds the client from cfg. Static credentials are used when
// both key parts are present; otherwise the default AWS chain applies.
func NewS3Store(ctx context.Context, cfg config.BlobConfig) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle || cfg.Endpoint != ""
	})

	return &S3Store{
		client:       client,
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		publicBase:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		publicRead:   cfg.PublicReadACL(),
		createBucket: cfg.CreateBucket,
	}, nil
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string { return s.bucket }

// EnsureBucket probes the bucket and creates it when missing and allowed.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	switch errorCode(err) {
	case "NotFound", "NoSuchBucket":
	case "Forbidden", "AccessDenied":
		return fmt.Errorf("%w: %s", ErrBucketForbidden, s.bucket)
	default:
		return fmt.Errorf("probe bucket %s: %w", s.bucket, err)
	}

	if !s.createBucket {
		return fmt.Errorf("%w: %s", ErrBucketMissing, s.bucket)
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if s.publicRead {
		input.ACL = types.BucketCannedACLPublicRead
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		switch errorCode(err) {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put writes data under key.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(cacheControl),
	}
	if s.publicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// List returns the objects stored directly under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var objects []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// PublicURL returns the unauthenticated URL of key.
func (s *S3Store) PublicURL(key string) string {
	escaped := escapeKey(key)
	switch {
	case s.publicBase != "":
		return s.publicBase + "/" + escaped
	case s.endpoint != "":
		return s.endpoint + "/" + url.PathEscape(s.bucket) + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
	}
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNoSuchBucket reports whether err says the bucket is gone.
func IsNoSuchBucket(err error) bool {
	return errorCode(err) == "NoSuchBucket"
}
