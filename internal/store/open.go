package store

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"keygate/internal/security"
)

// Backends accepted by Open
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// DatabaseFile is the SQLite file name inside the state directory
const DatabaseFile = "activation.db"

// Open creates the configured backend rooted at stateDir
func Open(backend, stateDir string, signer *security.Signer, sealer Sealer, logger *slog.Logger) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(filepath.Join(stateDir, RecordFile), signer, WithSealer(sealer), WithLogger(logger))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(stateDir, DatabaseFile), signer, sealer, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
