package documents

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"intakehub/pkg/platform/sentinel"
)

type object struct {
	contentType string
	body        []byte
}

// InMemoryStore keeps card images in process. Used when no bucket is
// configured and in tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]object)}
}

func (s *InMemoryStore) Put(_ context.Context, key, contentType string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{contentType: contentType, body: append([]byte(nil), body...)}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("object %s: %w", key, sentinel.ErrNotFound)
	}
	return append([]byte(nil), obj.body...), obj.contentType, nil
}

func (s *InMemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

// Len reports how many objects are held.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
