package job

import (
	"context"
	"sync"
)

// MemoryStore 在内存中保存任务历史，主要用于测试与本地演示。
type MemoryStore struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

// NewMemoryStore 创建内存历史存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record 追加一条历史记录。
func (s *MemoryStore) Record(_ context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Recent 返回最近的历史记录，按完成时间倒序。
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]HistoryEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.entries[i])
	}
	return result, nil
}

// Close 实现 Store 接口，内存实现无需清理。
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
