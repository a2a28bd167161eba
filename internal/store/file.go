package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "keygate/internal/errors"
	"keygate/internal/security"
	"keygate/pkg/contracts/domain"
)

const (
	// RecordFile is the default file name inside the state directory
	RecordFile = "activation.json"

	witnessSuffix = ".witness"
	lockSuffix    = ".lock"
)

// FileStore keeps the record in one file, replaced atomically on every write.
// A witness file next to it remembers that an activation existed, so deleting
// the record does not reset the installation.
type FileStore struct {
	path    string
	witness string
	lock    string
	codec   codec
	logger  *slog.Logger

	mu sync.Mutex
}

// FileOption configures a FileStore
type FileOption func(*FileStore)

// WithSealer encrypts the record at rest
func WithSealer(s Sealer) FileOption {
	return func(f *FileStore) {
		if s != nil {
			f.codec.sealer = s
		}
	}
}

// WithLogger sets the store logger
func WithLogger(l *slog.Logger) FileOption {
	return func(f *FileStore) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFileStore opens a file store at path, creating its directory
func NewFileStore(path string, signer *security.Signer, opts ...FileOption) (*FileStore, error) {
	if signer == nil {
		return nil, errors.New("file store requires a signer")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, apperrors.NewStorageError("open", path, err)
	}

	s := &FileStore{
		path:    path,
		witness: path + witnessSuffix,
		lock:    path + lockSuffix,
		codec:   newCodec(signer, nil),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the record file location
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(ctx context.Context) (*domain.ActivationRecord, error) {
	return get(ctx, s)
}

func (s *FileStore) Put(ctx context.Context, rec domain.ActivationRecord) error {
	return put(ctx, s, rec)
}

func (s *FileStore) IncrementUsage(ctx context.Context) (int, error) {
	return incrementUsage(ctx, s)
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.lock)
	if err != nil {
		return apperrors.NewStorageError("lock", s.lock, err)
	}
	defer unlock()

	return s.remove()
}

// Update runs fn under the store mutex and an advisory file lock shared with
// other processes using the same state directory.
func (s *FileStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.lock)
	if err != nil {
		return apperrors.NewStorageError("lock", s.lock, err)
	}
	defer unlock()

	current, err := s.load()
	if err != nil {
		return err
	}

	tx := newStagedTx(current)
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}

	if tx.cleared {
		return s.remove()
	}
	return s.write(*tx.rec)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() (*domain.ActivationRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if _, werr := os.Stat(s.witness); werr == nil {
			s.logger.Warn("activation record missing but witness present",
				slog.String("path", s.path),
			)
			return nil, apperrors.NewStorageError("read", s.path, apperrors.ErrRecordMissing)
		}
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageError("read", s.path, err)
	}

	rec, err := s.codec.decode(data)
	if err != nil {
		if apperrors.IsTampering(err) {
			s.logger.Warn("activation record failed integrity check",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperrors.NewStorageError("decode", s.path, err)
	}
	return rec, nil
}

func (s *FileStore) write(rec domain.ActivationRecord) error {
	data, err := s.codec.encode(rec)
	if err != nil {
		return apperrors.NewStorageError("encode", s.path, err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return apperrors.NewStorageError("write", s.path, err)
	}

	// Written after the record so a crash in between never strands a witness
	if _, err := os.Stat(s.witness); errors.Is(err, fs.ErrNotExist) {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
		if err := writeAtomic(s.witness, stamp); err != nil {
			return apperrors.NewStorageError("write", s.witness, err)
		}
	}
	return nil
}

func (s *FileStore) remove() error {
	for _, p := range []string{s.path, s.witness} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperrors.NewStorageError("clear", p, err)
		}
	}
	if err := syncDir(filepath.Dir(s.path)); err != nil {
		return apperrors.NewStorageError("clear", s.path, err)
	}
	s.logger.Info("activation record cleared", slog.String("path", s.path))
	return nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it,
// renames it over path and syncs the directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true

	return syncDir(dir)
}
