// Package storage uploads and deletes project files in an object store.
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"path"
	"strings"

	"proin/api/internal/config"
)

var (
	ErrNotFound            = errors.New("object not found")
	ErrDisabled            = errors.New("object storage is not configured")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// Gateway is the object store seen by the coordinators.
type Gateway interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

// New picks the driver named in cfg. An empty driver yields a gateway that
// rejects every call with ErrDisabled.
func New(ctx context.Context, cfg config.StorageConfig) (Gateway, error) {
	switch cfg.Driver {
	case "":
		return Disabled{}, nil
	case "minio":
		return NewMinio(cfg)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

type Disabled struct{}

func (Disabled) Put(context.Context, string, string, []byte) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Delete(context.Context, string) error {
	return ErrDisabled
}

// ObjectKey is "files/{projectId}/{fileId}-{filename}" with the filename reduced
// to its base name. The file id keeps same-named uploads in separate objects.
func ObjectKey(projectID, fileID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}
	return "files/" + projectID + "/" + fileID + "-" + name
}

var extraTypes = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".csv":  "text/csv",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".zip":  "application/zip",
	".heic": "image/heic",
}

// ContentType resolves the MIME type from the file extension.
func ContentType(filename string) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return "", ErrUnsupportedFileType
	}
	if ct, ok := extraTypes[ext]; ok {
		return ct, nil
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct, nil
	}
	return "", ErrUnsupportedFileType
}

// DecodeData accepts raw base64 or a "data:<type>;base64," URL.
func DecodeData(data string) ([]byte, error) {
	payload := strings.TrimSpace(data)
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, errors.New("malformed data url")
		}
		payload = payload[idx+1:]
	}
	if payload == "" {
		return nil, errors.New("empty file payload")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
	}
	return decoded, nil
}

// ImageSize reads the dimensions from the image header. ok is false for
// non-image content.
func ImageSize(body []byte) (width, height int, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func PublicURL(host, key string) string {
	return strings.TrimRight(host, "/") + "/" + key
}

// KeyFromURL strips the public host from a stored URL.
func KeyFromURL(host, url string) string {
	prefix := strings.TrimRight(host, "/") + "/"
	if host != "" && strings.HasPrefix(url, prefix) {
		return strings.TrimPrefix(url, prefix)
	}
	return strings.TrimLeft(url, "/")
}

func readerFor(body []byte) (io.Reader, int64) {
	return bytes.NewReader(body), int64(len(body))
}
