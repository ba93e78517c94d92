package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scalpscan/internal/models"
)

// Photo is one row of the photos table.
type Photo struct {
	ID          string
	SessionID   string
	CaseID      string
	FileName    string
	StoragePath string
	PublicURL   string
	MimeType    string
	SizeBytes   int64
	Metadata    *models.Metadata
	UploadedAt  time.Time
}

// PhotoStore reads and writes photo metadata rows keyed by storage path.
type PhotoStore struct {
	db *sql.DB
}

func NewPhotoStore(db *sql.DB) *PhotoStore {
	return &PhotoStore{db: db}
}

// Insert stores p, assigning an id when it has none.
func (s *PhotoStore) Insert(ctx context.Context, p Photo) (*Photo, error) {
	if p.StoragePath == "" {
		return nil, errors.New("storage path is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.UploadedAt.IsZero() {
		p.UploadedAt = time.Now().UTC()
	}

	var (
		age             sql.NullInt64
		gender, problem string
	)
	if p.Metadata != nil {
		if p.Metadata.Age != nil {
			age = sql.NullInt64{Int64: int64(*p.Metadata.Age), Valid: true}
		}
		gender = p.Metadata.Gender
		problem = p.Metadata.Problem
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO photos (id, session_id, case_id, file_name, storage_path, public_url, mime_type, size_bytes, age, gender, problem, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.CaseID, p.FileName, p.StoragePath, p.PublicURL, p.MimeType, p.SizeBytes,
		age, gender, problem, p.UploadedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert photo: %w", err)
	}
	return &p, nil
}

// ListBySession returns the session's rows oldest first.
func (s *PhotoStore) ListBySession(ctx context.Context, sessionID string) ([]Photo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, case_id, file_name, storage_path, public_url, mime_type, size_bytes, age, gender, problem, uploaded_at
		 FROM photos WHERE session_id = ? ORDER BY uploaded_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var (
			p               Photo
			age             sql.NullInt64
			gender, problem string
			uploadedAt      int64
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.CaseID, &p.FileName, &p.StoragePath, &p.PublicURL,
			&p.MimeType, &p.SizeBytes, &age, &gender, &problem, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		md := &models.Metadata{Gender: gender, Problem: problem}
		if age.Valid {
			v := int(age.Int64)
			md.Age = &v
		}
		if !md.IsEmpty() {
			p.Metadata = md
		}
		p.UploadedAt = time.UnixMilli(uploadedAt).UTC()
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// BySession indexes ListBySession by storage path.
func (s *PhotoStore) BySession(ctx context.Context, sessionID string) (map[string]Photo, error) {
	photos, err := s.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Photo, len(photos))
	for _, p := range photos {
		out[p.StoragePath] = p
	}
	return out, nil
}
