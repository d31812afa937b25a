package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// BlobStore keeps archived documents in process memory. Intended for
// development and tests.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]blobObject
}

type blobObject struct {
	contentType string
	data        []byte
}

// NewBlobStore constructs an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]blobObject)}
}

// PutObject stores the content under path and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path, contentType string, data io.Reader) (string, error) {
	if path == "" {
		return "", errors.New("blob path required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read blob content: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = blobObject{contentType: contentType, data: body}
	return "mem://" + path, nil
}

// Object returns the stored bytes for a path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}
