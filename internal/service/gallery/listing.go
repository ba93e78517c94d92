package gallery

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"scalpscan/internal/keycodec"
	"scalpscan/internal/models"
	"scalpscan/internal/redis"
)

// keys written before millisecond timestamps carry unix seconds
const secondsCutoff = 100_000_000_000

// Listing is the response of List. Files is never nil.
type Listing struct {
	SessionID string                `json:"sessionId"`
	Files     []models.UploadedFile `json:"files"`
	Cases     []models.Case         `json:"cases,omitempty"`
}

// List returns every file stored under the session, newest first, plus the
// case grouping when any key carries a case id.
func (s *Service) List(ctx context.Context, sessionID string) (*Listing, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if strings.Contains(sessionID, "/") {
		return nil, ErrInvalidSession
	}

	cacheKey := redis.ListingKey(sessionID)
	if s.cache != nil && s.listingTTL > 0 {
		var cached Listing
		err := s.cache.GetJSON(ctx, cacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "listing cache read failed", "session", sessionID, "err", err)
		}
	}

	objects, err := s.blobs.List(ctx, sessionID+"/")
	if err != nil {
		return nil, fmt.Errorf("list session %s: %w", sessionID, err)
	}

	var rows map[string]rowView
	if s.photos != nil && len(objects) > 0 {
		photos, err := s.photos.BySession(ctx, sessionID)
		if err != nil {
			s.logger.WarnContext(ctx, "metadata lookup failed, using key metadata", "session", sessionID, "err", err)
		} else {
			rows = make(map[string]rowView, len(photos))
			for k, p := range photos {
				rows[k] = rowView{fileName: p.FileName, mimeType: p.MimeType, metadata: p.Metadata}
			}
		}
	}

	files := make([]models.UploadedFile, 0, len(objects))
	for _, obj := range objects {
		d := keycodec.Decode(obj.Key)
		f := models.UploadedFile{
			SessionID:  sessionID,
			CaseID:     d.CaseID,
			FileName:   d.FileName,
			MimeType:   mimeFromName(d.FileName),
			SizeBytes:  obj.Size,
			UploadedAt: uploadTime(d.Timestamp, obj.LastModified),
			StorageKey: obj.Key,
			PublicURL:  s.blobs.PublicURL(obj.Key),
			Metadata:   d.Metadata,
		}
		if row, ok := rows[obj.Key]; ok {
			if row.fileName != "" {
				f.FileName = row.fileName
			}
			if row.mimeType != "" {
				f.MimeType = row.mimeType
			}
			if row.metadata != nil {
				f.Metadata = row.metadata
			}
		}
		files = append(files, f)
	}

	listing := &Listing{SessionID: sessionID, Files: files, Cases: groupCases(files)}
	sort.SliceStable(listing.Files, func(i, j int) bool {
		return newer(listing.Files[i], listing.Files[j])
	})

	if s.cache != nil && s.listingTTL > 0 {
		if err := s.cache.SetJSON(ctx, cacheKey, listing, s.listingTTL); err != nil {
			s.logger.WarnContext(ctx, "listing cache write failed", "session", sessionID, "err", err)
		}
	}
	return listing, nil
}

type rowView struct {
	fileName string
	mimeType string
	metadata *models.Metadata
}

// groupCases returns nil when no file carries a case id. Otherwise files
// without one become single-file cases keyed by their storage key.
func groupCases(files []models.UploadedFile) []models.Case {
	cased := false
	for _, f := range files {
		if f.CaseID != "" {
			cased = true
			break
		}
	}
	if !cased {
		return nil
	}

	index := make(map[string]int)
	var cases []models.Case
	for _, f := range files {
		id := f.CaseID
		if id == "" {
			id = f.StorageKey
		}
		i, ok := index[id]
		if !ok {
			i = len(cases)
			index[id] = i
			cases = append(cases, models.Case{CaseID: id})
		}
		cases[i].Files = append(cases[i].Files, f)
	}

	for i := range cases {
		c := &cases[i]
		sort.SliceStable(c.Files, func(a, b int) bool {
			return newer(c.Files[b], c.Files[a])
		})
		c.UploadedAt = c.Files[0].UploadedAt
		c.Metadata = c.Files[0].Metadata
	}
	sort.SliceStable(cases, func(a, b int) bool {
		if !cases[a].UploadedAt.Equal(cases[b].UploadedAt) {
			return cases[a].UploadedAt.After(cases[b].UploadedAt)
		}
		return cases[a].CaseID > cases[b].CaseID
	})
	return cases
}

func newer(a, b models.UploadedFile) bool {
	if !a.UploadedAt.Equal(b.UploadedAt) {
		return a.UploadedAt.After(b.UploadedAt)
	}
	return a.StorageKey > b.StorageKey
}

func uploadTime(ts int64, lastModified time.Time) time.Time {
	switch {
	case ts <= 0:
		return lastModified.UTC()
	case ts < secondsCutoff:
		return time.Unix(ts, 0).UTC()
	default:
		return time.UnixMilli(ts).UTC()
	}
}

func mimeFromName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case "":
		return ""
	}
	return mime.TypeByExtension(path.Ext(name))
}
