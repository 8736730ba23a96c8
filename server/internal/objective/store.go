package objective

import (
	"context"
	"errors"
	"fmt"

	"junction-sim/server/internal/config"
	"junction-sim/server/internal/model"
)

// ErrNotFound 表示该角色还没有记录任何目标状态（从未访问过）。
var ErrNotFound = errors.New("objectives not found")

// Store 按角色 id 保存目标列表。
//
// 约定：
// - Put 整体替换，不做合并；同样的值重复 Put 结果不变。
// - Get 返回的切片归调用方所有，修改它不影响存储。
// - 不同角色之间互不影响，允许并发访问。
type Store interface {
	Get(ctx context.Context, characterID string) ([]model.Objective, error)
	Put(ctx context.Context, characterID string, objectives []model.Objective) error
	Delete(ctx context.Context, characterID string) error
	Close() error
}

// NewStore 按配置创建存储实现。
func NewStore(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewInMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.Redis)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}
