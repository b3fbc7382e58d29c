package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sammcj/pdf-ocr-compare/internal/cache"
	"github.com/sirupsen/logrus"
)

// MemoryBucket is the bucket name reported for objects held in memory
const MemoryBucket = "memory"

var (
	// ErrUploadExpired is returned for upload tokens past their expiry
	ErrUploadExpired = errors.New("upload URL expired")
	// ErrUploadSignature is returned for upload tokens that do not match the key
	ErrUploadSignature = errors.New("invalid upload signature")
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process memory for local runs. Upload URLs
// point back at this service and carry a signed JWT instead of an AWS signature.
type MemoryStore struct {
	objects *cache.Cache
	baseURL string
	secret  []byte
	expiry  time.Duration
	now     func() time.Time
	logger  *logrus.Logger
}

// NewMemoryStore creates an in-memory store. baseURL is the externally reachable
// address of this service; objects are dropped after ttl.
func NewMemoryStore(baseURL string, ttl, expiry time.Duration, logger *logrus.Logger) (*MemoryStore, error) {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate upload secret: %w", err)
	}

	return &MemoryStore{
		objects: cache.NewCache(ttl),
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		expiry:  expiry,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Put stores a copy of data under key
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.objects.Set(key, memoryObject{data: append([]byte(nil), data...), contentType: contentType})
	return nil
}

// Get returns the object stored under key
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := m.objects.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val.(memoryObject).data...), nil
}

// Delete removes key. Missing keys are ignored to match S3 semantics.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.objects.Delete(key)
	return nil
}

// PresignUpload returns a signed URL for this service's upload endpoint.
// The token is an HS256 JWT whose subject is the key.
func (m *MemoryStore) PresignUpload(_ context.Context, key, contentType string) (*PresignedUpload, error) {
	now := m.now()
	expiresAt := now.Add(m.expiry).UTC().Truncate(time.Second)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload token: %w", err)
	}

	query := url.Values{}
	query.Set("token", token)

	return &PresignedUpload{
		URL:       fmt.Sprintf("%s/api/upload/%s?%s", m.baseURL, key, query.Encode()),
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": contentType},
		Key:       key,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyUpload checks a token issued by PresignUpload for key
func (m *MemoryStore) VerifyUpload(key, token string) error {
	if token == "" {
		return ErrUploadSignature
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrUploadExpired
	}
	if err != nil {
		m.logger.WithError(err).Debug("Upload token parsing failed")
		return ErrUploadSignature
	}

	if claims.Subject != key {
		m.logger.WithFields(logrus.Fields{
			"expected_key": key,
			"token_key":    claims.Subject,
		}).Debug("Upload token key mismatch")
		return ErrUploadSignature
	}
	return nil
}

// Sweep drops expired objects
func (m *MemoryStore) Sweep() {
	if removed := m.objects.Sweep(); removed > 0 {
		m.logger.WithField("removed", removed).Debug("Swept expired in-memory objects")
	}
}

// Locate returns the pseudo location of key
func (m *MemoryStore) Locate(key string) DocumentRef {
	return DocumentRef{Bucket: MemoryBucket, Key: key}
}
