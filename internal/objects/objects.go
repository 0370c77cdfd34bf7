// Package objects stores the binary image payloads. Clients upload and download directly
// through presigned URLs; the service only signs, probes and deletes.
package objects

import (
	"context"
	"errors"
	"time"

	"github.com/mindgallery/gallery-api/internal/metrics"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("objects: object not found")

// Store is implemented by every object storage driver
type Store interface {
	// PresignPut returns a URL accepting a single PUT of key with the given content type
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Ping checks that the bucket is reachable
	Ping(ctx context.Context) error
}

// Instrumented records an operation counter for every call
type Instrumented struct {
	next Store
}

func NewInstrumented(next Store) *Instrumented {
	return &Instrumented{next: next}
}

func (s *Instrumented) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	u, err := s.next.PresignPut(ctx, key, contentType, ttl)
	metrics.RecordObjectOperation("presign_put", err)
	return u, err
}

func (s *Instrumented) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.next.PresignGet(ctx, key, ttl)
	metrics.RecordObjectOperation("presign_get", err)
	return u, err
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	err := s.next.Delete(ctx, key)
	metrics.RecordObjectOperation("delete", err)
	return err
}

func (s *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.next.Exists(ctx, key)
	metrics.RecordObjectOperation("head", err)
	return ok, err
}

func (s *Instrumented) Ping(ctx context.Context) error {
	err := s.next.Ping(ctx)
	metrics.RecordObjectOperation("ping", err)
	return err
}
