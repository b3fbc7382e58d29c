package storage

import (
	"context"
	"sync"
	"time"

	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sirupsen/logrus"
)

const releaseTimeout = 30 * time.Second

// Staged is a document copy that must be released once the caller is done with it
type Staged struct {
	Key string
	Ref DocumentRef

	store  Store
	logger *logrus.Logger
	once   sync.Once
}

// Stage uploads data under a fresh key below prefix
func Stage(ctx context.Context, store Store, prefix, ext string, data []byte, contentType string, logger *logrus.Logger) (*Staged, error) {
	key := NewStagingKey(prefix, ext)
	err := store.Put(ctx, key, data, contentType)
	telemetry.RecordStorageOperation(ctx, "stage", err)
	if err != nil {
		return nil, &extract.StagingError{Op: "put", Key: key, Err: err}
	}

	logger.WithFields(logrus.Fields{
		"key":   key,
		"bytes": len(data),
	}).Debug("Staged document")

	return &Staged{
		Key:    key,
		Ref:    store.Locate(key),
		store:  store,
		logger: logger,
	}, nil
}

// Release deletes the staged copy. It runs at most once, survives a cancelled
// parent context and only logs failures.
func (s *Staged) Release(ctx context.Context) {
	s.once.Do(func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		err := s.store.Delete(releaseCtx, s.Key)
		telemetry.RecordStorageOperation(releaseCtx, "release", err)
		if err != nil {
			s.logger.WithError(&extract.StagingError{Op: "delete", Key: s.Key, Err: err}).
				Warn("Failed to delete staged document")
			return
		}
		s.logger.WithField("key", s.Key).Debug("Deleted staged document")
	})
}
