package objective

import (
	"context"
	"sync"

	"junction-sim/server/internal/model"
)

// InMemoryStore 是基于内存的目标存储。
// 重启即丢数据，适合单进程演示和测试。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]model.Objective
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]model.Objective)}
}

// Get 返回目标列表的副本。
func (s *InMemoryStore) Get(_ context.Context, characterID string) ([]model.Objective, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objs, ok := s.data[characterID]
	if !ok {
		return nil, ErrNotFound
	}
	return model.CloneObjectives(objs), nil
}

// Put 保存目标列表的副本。
func (s *InMemoryStore) Put(_ context.Context, characterID string, objectives []model.Objective) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := model.CloneObjectives(objectives)
	if cp == nil {
		cp = []model.Objective{}
	}
	s.data[characterID] = cp
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, characterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, characterID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
