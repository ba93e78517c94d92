package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"scalpscan/internal/models"
	"scalpscan/internal/service/gallery"
)

type uploadFileJSON struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

type uploadJSON struct {
	SessionID string           `json:"sessionId"`
	CaseID    string           `json:"caseId"`
	Files     []uploadFileJSON `json:"files"`
	Metadata  *models.Metadata `json:"metadata"`
}

// decodeUpload accepts a JSON body with base64 payloads or a multipart form
// with "files" parts. The session may also come from X-Session-ID.
func decodeUpload(c *gin.Context) (gallery.UploadRequest, error) {
	var req gallery.UploadRequest
	var err error
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = decodeMultipartUpload(c)
	} else {
		req, err = decodeJSONUpload(c)
	}
	if err != nil {
		return req, err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = strings.TrimSpace(c.GetHeader(headerSessionID))
	}
	return req, nil
}

func decodeJSONUpload(c *gin.Context) (gallery.UploadRequest, error) {
	var body uploadJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return gallery.UploadRequest{}, err
		}
		return gallery.UploadRequest{}, errors.New("invalid request body")
	}

	req := gallery.UploadRequest{
		SessionID: body.SessionID,
		CaseID:    strings.TrimSpace(body.CaseID),
		Metadata:  body.Metadata,
		Files:     make([]gallery.FileInput, 0, len(body.Files)),
	}
	for _, f := range body.Files {
		data, err := decodeBase64(f.Data)
		if err != nil {
			return gallery.UploadRequest{}, fmt.Errorf("file %q: invalid base64 data", f.Name)
		}
		req.Files = append(req.Files, gallery.FileInput{
			Name: baseName(f.Name),
			Type: f.Type,
			Size: f.Size,
			Data: data,
		})
	}
	return req, nil
}

// decodeBase64 also accepts data URLs ("data:image/png;base64,...").
func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func decodeMultipartUpload(c *gin.Context) (gallery.UploadRequest, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return gallery.UploadRequest{}, err
		}
		return gallery.UploadRequest{}, errors.New("invalid multipart form")
	}

	req := gallery.UploadRequest{
		SessionID: c.PostForm("sessionId"),
		CaseID:    strings.TrimSpace(c.PostForm("caseId")),
	}
	md := &models.Metadata{
		Gender:  strings.TrimSpace(c.PostForm("gender")),
		Problem: strings.TrimSpace(c.PostForm("problem")),
	}
	if raw := strings.TrimSpace(c.PostForm("age")); raw != "" {
		age, err := strconv.Atoi(raw)
		if err != nil {
			return gallery.UploadRequest{}, fmt.Errorf("age: %q is not a whole number", raw)
		}
		md.Age = &age
	}
	if !md.IsEmpty() {
		req.Metadata = md
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return gallery.UploadRequest{}, fmt.Errorf("file %q: %w", fh.Filename, err)
		}
		req.Files = append(req.Files, gallery.FileInput{
			Name: baseName(fh.Filename),
			Type: partType(fh, data),
			Size: fh.Size,
			Data: data,
		})
	}
	return req, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.New("open file failed")
	}
	defer f.Close()
	return io.ReadAll(f)
}

// partType prefers the declared part type and sniffs the bytes otherwise.
func partType(fh *multipart.FileHeader, data []byte) string {
	declared := fh.Header.Get("Content-Type")
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

func baseName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(name, "\\", "/"))
}
