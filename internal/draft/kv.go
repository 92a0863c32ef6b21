package draft

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryKV 用 map 保存数据，供测试及未配置路径时使用。
type MemoryKV struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryKV() *MemoryKV { return &MemoryKV{m: make(map[string]string)} }

func (kv *MemoryKV) Get(key string) (string, bool, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *MemoryKV) Set(key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = value
	return nil
}

func (kv *MemoryKV) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.m, key)
	return nil
}

// SQLiteKV 是 SQLite 文件中的本地持久化键值表。
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLiteKV 打开或创建 path 处的存储。
func OpenSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open draft store: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate draft store: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

func (kv *SQLiteKV) Get(key string) (string, bool, error) {
	var v string
	err := kv.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (kv *SQLiteKV) Set(key, value string) error {
	_, err := kv.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

func (kv *SQLiteKV) Delete(key string) error {
	_, err := kv.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (kv *SQLiteKV) Close() error {
	return kv.db.Close()
}
