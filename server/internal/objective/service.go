package objective

import (
	"context"
	"errors"
	"fmt"

	"junction-sim/server/internal/model"
)

// Service 在 Store 之上提供按角色的目标访问。
// 首次访问某角色时写入默认目标，此后该角色视为"已接触"。
type Service struct {
	store      Store
	characters []model.Character
}

func NewService(store Store, characters []model.Character) *Service {
	return &Service{store: store, characters: characters}
}

// Store 返回底层存储。
func (s *Service) Store() Store { return s.store }

// Open 返回角色当前的目标列表；没有记录时写入并返回默认目标。
func (s *Service) Open(ctx context.Context, char model.Character) ([]model.Objective, error) {
	objs, err := s.store.Get(ctx, char.ID)
	if err == nil {
		return objs, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	defaults := char.DefaultObjectives()
	if err := s.store.Put(ctx, char.ID, defaults); err != nil {
		return nil, fmt.Errorf("record default objectives %s: %w", char.ID, err)
	}
	return defaults, nil
}

// Recorded 返回所有已记录角色的目标状态，未访问过的角色不出现在结果中。
func (s *Service) Recorded(ctx context.Context) (map[string][]model.Objective, error) {
	recorded := make(map[string][]model.Objective, len(s.characters))
	for _, c := range s.characters {
		objs, err := s.store.Get(ctx, c.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		recorded[c.ID] = objs
	}
	return recorded, nil
}

// ResetAll 删除所有角色的记录，遇到错误仍会继续处理其余角色。
func (s *Service) ResetAll(ctx context.Context) error {
	var errs []error
	for _, c := range s.characters {
		if err := s.store.Delete(ctx, c.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
