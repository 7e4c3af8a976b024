// Package artifact stores run outputs (audit envelopes, generated docs,
// uploaded files) in an S3-compatible object store.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("artifact: not found")

// Store persists named blobs and addresses them with S3-style URLs.
type Store interface {
	// Put writes data under key and returns the object's URL.
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	// Get reads the object named by key or by a URL previously returned
	// from Put.
	Get(ctx context.Context, keyOrURL string) ([]byte, error)
	// Delete removes one object; deleting a missing object is not an error.
	Delete(ctx context.Context, keyOrURL string) error
	// DeletePrefix removes every object under the prefix and returns how
	// many were deleted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// URL returns the canonical URL for a key without writing anything.
	URL(key string) string
}

// ParseKey extracts the object key from an s3:// or virtual-hosted https://
// URL. Plain keys pass through unchanged.
func ParseKey(bucket, keyOrURL string) string {
	if strings.HasPrefix(keyOrURL, "s3://") {
		rest := strings.TrimPrefix(keyOrURL, "s3://")
		if cut := strings.IndexByte(rest, '/'); cut >= 0 {
			return rest[cut+1:]
		}
		return ""
	}
	if strings.HasPrefix(keyOrURL, "https://") || strings.HasPrefix(keyOrURL, "http://") {
		rest := keyOrURL[strings.Index(keyOrURL, "://")+3:]
		if cut := strings.IndexByte(rest, '/'); cut >= 0 {
			host := rest[:cut]
			if strings.HasPrefix(host, bucket+".") || host == bucket {
				return rest[cut+1:]
			}
			// Path-style URL: first path segment is the bucket.
			path := rest[cut+1:]
			if strings.HasPrefix(path, bucket+"/") {
				return strings.TrimPrefix(path, bucket+"/")
			}
			return path
		}
		return ""
	}
	return keyOrURL
}

type memoryObject struct {
	contentType string
	data        []byte
}

// MemoryStore is the in-process artifact store used in single-process mode
// and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

// NewMemoryStore creates an empty in-process store addressing objects as
// s3://<bucket>/<key>.
func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = "artifacts"
	}
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = memoryObject{contentType: contentType, data: buf}
	return s.URL(key), nil
}

func (s *MemoryStore) Get(ctx context.Context, keyOrURL string) ([]byte, error) {
	key := ParseKey(s.bucket, keyOrURL)
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keyOrURL string) error {
	key := ParseKey(s.bucket, keyOrURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		delete(s.objects, key)
	}
	return len(keys), nil
}

func (s *MemoryStore) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// readAll is a small helper shared with the minio implementation.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
