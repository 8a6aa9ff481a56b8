package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/storage/sqlite"
)

var (
	sharedMu     sync.Mutex
	sharedStores = map[string]*sqlite.Store{}
	// ErrDataDirNotConfigured indicates neither db_path nor data_dir is set.
	ErrDataDirNotConfigured = errors.New("data_dir is not configured")
)

// DBPath resolves the sqlite file for cfg.
func DBPath(cfg config.Config) (string, error) {
	if p := strings.TrimSpace(cfg.DBPath); p != "" {
		return p, nil
	}
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return "", ErrDataDirNotConfigured
	}
	return filepath.Join(dataDir, "cortexdesk.db"), nil
}

// SharedSQLiteStore returns one store handle per database file for reuse
// across runs of the same process.
func SharedSQLiteStore(cfg config.Config) (*sqlite.Store, error) {
	path, err := DBPath(cfg)
	if err != nil {
		return nil, err
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if s, ok := sharedStores[path]; ok {
		return s, nil
	}
	s, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	sharedStores[path] = s
	return s, nil
}
