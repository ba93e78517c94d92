package models

import "time"

// UploadedFile describes one stored photograph.
type UploadedFile struct {
	SessionID  string    `json:"session_id"`
	CaseID     string    `json:"case_id,omitempty"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
	StorageKey string    `json:"storage_key"`
	PublicURL  string    `json:"public_url"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// Case groups the images of one examination. It is computed at listing time
// and never stored.
type Case struct {
	CaseID     string         `json:"case_id"`
	UploadedAt time.Time      `json:"uploaded_at"`
	Metadata   *Metadata      `json:"metadata,omitempty"`
	Files      []UploadedFile `json:"files"`
}

// Receipt is the upload response entry for one stored file.
type Receipt struct {
	FileName   string    `json:"fileName"`
	PublicURL  string    `json:"publicUrl"`
	SizeBytes  int64     `json:"sizeBytes"`
	UploadedAt time.Time `json:"uploadedAt"`
	MimeType   string    `json:"mimeType"`
	StorageKey string    `json:"storageKey"`
	CaseID     string    `json:"caseId,omitempty"`
}

func (f UploadedFile) Receipt() Receipt {
	return Receipt{
		FileName:   f.FileName,
		PublicURL:  f.PublicURL,
		SizeBytes:  f.SizeBytes,
		UploadedAt: f.UploadedAt,
		MimeType:   f.MimeType,
		StorageKey: f.StorageKey,
		CaseID:     f.CaseID,
	}
}
