package objects

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Memory keeps object keys in process. Presigned URLs point at a fake host.
type Memory struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
}

func NewMemory(bucket string) *Memory {
	return &Memory{bucket: bucket, objects: make(map[string][]byte)}
}

// Upload stands in for the client-side PUT to a presigned URL
func (m *Memory) Upload(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *Memory) signedURL(op, key string, ttl time.Duration) string {
	q := url.Values{}
	q.Set("op", op)
	q.Set("expires", strconv.FormatInt(int64(ttl.Seconds()), 10))
	u := url.URL{Scheme: "memory", Host: m.bucket, Path: "/" + key, RawQuery: q.Encode()}
	return u.String()
}

func (m *Memory) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("presign put: empty key")
	}
	return m.signedURL("put", key, ttl), nil
}

func (m *Memory) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("presign get: empty key")
	}
	return m.signedURL("get", key, ttl), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}
