package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"caseanalysis-backend/config"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Download when nothing is stored under the path
var ErrObjectNotFound = errors.New("stored object not found")

// Storage interface for file storage operations
type Storage interface {
	// Upload stores data under key and returns the storage path
	Upload(ctx context.Context, key string, contentType string, data io.Reader) (string, error)

	// Download retrieves an object by storage path
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes an object by storage path
	Delete(ctx context.Context, storagePath string) error
}

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// NewStorage creates a storage instance from configuration
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch StorageType(cfg.Type) {
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)

	case StorageTypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET environment variable is required for S3 storage")
		}
		return NewS3Storage(cfg)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// sanitizeFilename keeps uploaded names safe to use as path segments
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_")
	return replacer.Replace(filename)
}

// VolumeSourceKey is where the uploaded source document of a volume lives
func VolumeSourceKey(caseID, fileID uuid.UUID, filename string) string {
	return fmt.Sprintf("cases/%s/sources/%s_%s", caseID, fileID, sanitizeFilename(filename))
}

// ReportArchiveKey is where the full text of an aggregated report is archived
func ReportArchiveKey(caseID, reportID uuid.UUID) string {
	return fmt.Sprintf("cases/%s/reports/%s.md", caseID, reportID)
}

// ContentType determines content type from filename
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
