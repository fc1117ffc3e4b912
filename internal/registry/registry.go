package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// ErrNotFound is returned when an id has no recorded path.
var ErrNotFound = errors.New("not found")

const cacheSize = 16384

// Registry is the persistent path <-> file id mapping.
type Registry struct {
	db       *sql.DB
	pathToID *lru.Cache[string, types.FileID]
	idToPath *lru.Cache[types.FileID, string]
}

// openDatabase opens the registry database with appropriate settings.
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers concurrent with the single writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
`

// Open opens (creating if necessary) the registry stored at dbPath.
func Open(dbPath string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply registry schema: %w", err)
	}

	pathToID, err := lru.New[string, types.FileID](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	idToPath, err := lru.New[types.FileID, string](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Registry{db: db, pathToID: pathToID, idToPath: idToPath}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// FileID returns the id recorded for path, or 0 when the path is unknown.
func (r *Registry) FileID(path string) (types.FileID, error) {
	if id, ok := r.pathToID.Get(path); ok {
		return id, nil
	}
	var id int64
	err := r.db.QueryRowContext(context.Background(),
		"SELECT id FROM files WHERE path = ?", path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s: %w", path, err)
	}
	fileID := types.FileID(id)
	r.cache(path, fileID)
	return fileID, nil
}

// Insert returns the id for path, allocating one if the path is new.
func (r *Registry) Insert(path string) (types.FileID, error) {
	if id, ok := r.pathToID.Get(path); ok {
		return id, nil
	}
	_, err := r.db.ExecContext(context.Background(),
		"INSERT INTO files (path) VALUES (?) ON CONFLICT(path) DO NOTHING", path)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", path, err)
	}
	id, err := r.FileID(path)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("failed to allocate id for %s", path)
	}
	return id, nil
}

// Path returns the path recorded for id, or ErrNotFound.
func (r *Registry) Path(id types.FileID) (string, error) {
	if id.IsNull() {
		return "", ErrNotFound
	}
	if path, ok := r.idToPath.Get(id); ok {
		return path, nil
	}
	var path string
	err := r.db.QueryRowContext(context.Background(),
		"SELECT path FROM files WHERE id = ?", int64(id)).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up id %d: %w", id, err)
	}
	r.cache(path, id)
	return path, nil
}

// LastModified returns the path's mtime in unix milliseconds, or 0 when the
// file is gone.
func (r *Registry) LastModified(id types.FileID) int64 {
	path, err := r.Path(id)
	if err != nil {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

// Save checkpoints the registry to disk. Persisting the registry is
// best-effort; callers retry a bounded number of times.
func (r *Registry) Save() error {
	_, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("failed to checkpoint registry: %w", err)
	}
	return nil
}

// SaveWithRetry calls Save up to attempts times with a short back-off.
func (r *Registry) SaveWithRetry(attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = r.Save(); err == nil {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return err
}

func (r *Registry) cache(path string, id types.FileID) {
	r.pathToID.Add(path, id)
	r.idToPath.Add(id, path)
}
