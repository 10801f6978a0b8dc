package objectstore

import (
	"context"
	"fmt"
	"sync"

	xerrors "Archive-Agents/internal/errors"

	"github.com/google/uuid"
)

// MemoryStore 在内存中保存对象，主要用于测试与本地演示。
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStore 创建内存对象存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put 保存对象并返回 mem:// URI。
func (s *MemoryStore) Put(_ context.Context, data []byte, _ string) (string, error) {
	uri := fmt.Sprintf("mem://%s", uuid.NewString())
	s.mu.Lock()
	s.objects[uri] = append([]byte(nil), data...)
	s.mu.Unlock()
	return uri, nil
}

// Get 读取对象内容。
func (s *MemoryStore) Get(_ context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[uri]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("对象 %s 不存在", uri))
	}
	return append([]byte(nil), data...), nil
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
