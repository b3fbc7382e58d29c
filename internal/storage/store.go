// Package storage stages documents in an object store reachable by the OCR
// job service and issues presigned upload destinations for the browser.
package storage

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Backend names accepted in configuration
const (
	BackendS3     = "s3"
	BackendMemory = "memory"
)

const (
	// UploadPrefix is where browser uploads land
	UploadPrefix = "uploads"
	// DefaultStagingPrefix is where the OCR client stages its own copies
	DefaultStagingPrefix = "ocr-staging"
	// DefaultPresignExpiry bounds how long an upload URL stays valid
	DefaultPresignExpiry = 15 * time.Minute
	// DefaultMaxObjectBytes bounds how much of an object Get reads into memory
	DefaultMaxObjectBytes = int64(50 * 1024 * 1024)
)

var (
	// ErrNotFound is returned when a key does not exist in the store
	ErrNotFound = errors.New("object not found")
	// ErrTooLarge is returned by Get for objects above the store's size limit
	ErrTooLarge = errors.New("object too large")
)

// Store is the content store used for uploads and OCR staging
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignUpload(ctx context.Context, key, contentType string) (*PresignedUpload, error)

	// Locate returns where the OCR service can read the object
	Locate(key string) DocumentRef
}

// DocumentRef points at a stored object
type DocumentRef struct {
	Bucket string
	Key    string
}

// PresignedUpload is a time limited upload destination
type PresignedUpload struct {
	URL       string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Key       string            `json:"key"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewUploadKey returns a collision free key for a browser upload
func NewUploadKey(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "document"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return path.Join(UploadPrefix, uuid.New().String()+"-"+name)
}

// NewStagingKey returns a unique key under prefix for a staged copy
func NewStagingKey(prefix, ext string) string {
	if prefix == "" {
		prefix = DefaultStagingPrefix
	}
	return path.Join(prefix, uuid.New().String()+ext)
}

// ValidKey rejects keys that could escape the bucket namespace
func ValidKey(key string) bool {
	if key == "" || len(key) > 1024 || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
