package objective

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"junction-sim/server/internal/model"
)

const schemaVersion = 1

// SQLiteStore 把目标列表持久化到本地 SQLite 文件，单节点部署时重启不丢分。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（必要时创建）数据库并执行迁移。
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite 只允许一个写者
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS objectives (
		character_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var current int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion)
		return err
	case err != nil:
		return err
	case current > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d", current, schemaVersion)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, characterID string) ([]model.Objective, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM objectives WHERE character_id = ?", characterID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query objectives %s: %w", characterID, err)
	}

	var objs []model.Objective
	if err := json.Unmarshal([]byte(payload), &objs); err != nil {
		return nil, fmt.Errorf("decode objectives %s: %w", characterID, err)
	}
	if objs == nil {
		objs = []model.Objective{}
	}
	return objs, nil
}

func (s *SQLiteStore) Put(ctx context.Context, characterID string, objectives []model.Objective) error {
	if objectives == nil {
		objectives = []model.Objective{}
	}
	payload, err := json.Marshal(objectives)
	if err != nil {
		return fmt.Errorf("encode objectives %s: %w", characterID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objectives (character_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(character_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		characterID, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert objectives %s: %w", characterID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, characterID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM objectives WHERE character_id = ?", characterID); err != nil {
		return fmt.Errorf("delete objectives %s: %w", characterID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
