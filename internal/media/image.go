package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const MaxImageBytes = 5 << 20

var (
	ErrImageMissing  = errors.New("image file is required")
	ErrImageEmpty    = errors.New("image file is empty")
	ErrImageTooLarge = errors.New("image file is too large")
	ErrNotAnImage    = errors.New("file must be an image")
)

// ImageUploader stores an image and returns its public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, publicID, imageSource string) (string, error)
}

// ReadImage pulls the multipart file named field out of r and returns it as
// a base64 data URI. Errors other than a malformed form are one of the
// ErrImage* values.
func ReadImage(w http.ResponseWriter, r *http.Request, field string) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(MaxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", ErrImageTooLarge
		}
		return "", fmt.Errorf("parse multipart form: %w", err)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return "", ErrImageMissing
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return "", ErrImageEmpty
	}
	if len(data) > MaxImageBytes {
		return "", ErrImageTooLarge
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return "", ErrNotAnImage
	}

	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data)), nil
}
