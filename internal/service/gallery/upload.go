package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scalpscan/internal/blob"
	"scalpscan/internal/keycodec"
	"scalpscan/internal/models"
	"scalpscan/internal/redis"
	"scalpscan/internal/storage"
)

var allowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

// FileInput is one file of an upload batch.
type FileInput struct {
	Name string
	Type string
	Size int64 // declared by the client
	Data []byte
}

type UploadRequest struct {
	SessionID string
	CaseID    string
	Files     []FileInput
	Metadata  *models.Metadata
}

// UploadResult lists the stored files in request order. MirrorErr is set
// when the blobs were written but the metadata table could not be updated.
type UploadResult struct {
	SessionID string
	Files     []models.UploadedFile
	MirrorErr error
}

// Upload validates the whole batch, then writes the files one by one. The
// first storage failure stops the batch; files already written stay.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	if err := s.bucket.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("prepare bucket: %w", err)
	}

	result := &UploadResult{SessionID: req.SessionID, Files: make([]models.UploadedFile, 0, len(req.Files))}
	// files written before a failure stay in the bucket, so the cached
	// listing is stale as soon as one put succeeded
	defer func() {
		if len(result.Files) > 0 {
			s.invalidateListing(ctx, req.SessionID)
		}
	}()
	var mirrorErrs []error
	var last int64
	for _, f := range req.Files {
		ts := s.now().UnixMilli()
		if ts <= last {
			ts = last + 1
		}
		last = ts

		key := keycodec.Encode(keycodec.Key{
			SessionID: req.SessionID,
			CaseID:    req.CaseID,
			Timestamp: ts,
			FileName:  f.Name,
			Metadata:  req.Metadata,
		})
		if err := s.blobs.Put(ctx, key, f.Type, f.Data); err != nil {
			if blob.IsNoSuchBucket(err) {
				s.bucket.Reset()
			}
			s.logger.ErrorContext(ctx, "store file failed", "session", req.SessionID, "file", f.Name, "err", err)
			return nil, fmt.Errorf("store %s: %w", f.Name, err)
		}

		file := models.UploadedFile{
			SessionID:  req.SessionID,
			CaseID:     req.CaseID,
			FileName:   f.Name,
			MimeType:   f.Type,
			SizeBytes:  int64(len(f.Data)),
			UploadedAt: time.UnixMilli(ts).UTC(),
			StorageKey: key,
			PublicURL:  s.blobs.PublicURL(key),
			Metadata:   req.Metadata,
		}
		result.Files = append(result.Files, file)

		if err := s.mirror(ctx, file); err != nil {
			s.logger.WarnContext(ctx, "metadata mirror failed", "key", key, "err", err)
			mirrorErrs = append(mirrorErrs, err)
		}
	}
	result.MirrorErr = errors.Join(mirrorErrs...)
	s.logger.InfoContext(ctx, "upload stored", "session", req.SessionID, "files", len(result.Files))
	return result, nil
}

func (s *Service) validate(req *UploadRequest) error {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return ErrMissingSession
	}
	if strings.Contains(req.SessionID, "/") {
		return ErrInvalidSession
	}
	if len(req.Files) == 0 {
		return ErrNoFiles
	}
	if len(req.Files) > s.maxFiles {
		return fmt.Errorf("%w: at most %d files per upload", ErrTooManyFiles, s.maxFiles)
	}

	for i := range req.Files {
		f := &req.Files[i]
		if f.Name == "" || len(f.Data) == 0 {
			return &ValidationError{File: f.Name, Reason: "missing file name or data"}
		}
		mediaType, _, _ := strings.Cut(f.Type, ";")
		f.Type = strings.ToLower(strings.TrimSpace(mediaType))
		if _, ok := allowedTypes[f.Type]; !ok {
			return &ValidationError{File: f.Name, Reason: fmt.Sprintf("unsupported type %q, only JPEG and PNG are accepted", f.Type)}
		}
		if int64(len(f.Data)) > s.maxFileBytes || f.Size > s.maxFileBytes {
			return &ValidationError{File: f.Name, Reason: fmt.Sprintf("exceeds the %d MB limit", s.maxFileBytes>>20)}
		}
	}

	if md := req.Metadata; md != nil {
		if md.Age != nil && *md.Age < 0 {
			return &ValidationError{Reason: "age must not be negative"}
		}
		if md.Gender != "" && !models.ValidGender(md.Gender) {
			return &ValidationError{Reason: fmt.Sprintf("unknown gender %q", md.Gender)}
		}
		if md.IsEmpty() {
			req.Metadata = nil
		}
	}
	if req.CaseID != "" && !keycodec.ValidCaseID(req.CaseID) {
		return &ValidationError{Reason: fmt.Sprintf("case id %q must look like case_<digits>", req.CaseID)}
	}
	return nil
}

func (s *Service) invalidateListing(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, redis.ListingKey(sessionID)); err != nil {
		s.logger.WarnContext(ctx, "listing cache invalidation failed", "session", sessionID, "err", err)
	}
}

func (s *Service) mirror(ctx context.Context, f models.UploadedFile) error {
	if s.photos == nil {
		return nil
	}
	_, err := s.photos.Insert(ctx, storage.Photo{
		SessionID:   f.SessionID,
		CaseID:      f.CaseID,
		FileName:    f.FileName,
		StoragePath: f.StorageKey,
		PublicURL:   f.PublicURL,
		MimeType:    f.MimeType,
		SizeBytes:   f.SizeBytes,
		Metadata:    f.Metadata,
		UploadedAt:  f.UploadedAt,
	})
	return err
}
