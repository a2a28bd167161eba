package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "keygate/internal/errors"
	"keygate/internal/security"
	"keygate/pkg/contracts/domain"
)

const singletonID = 1

// recordRow is the only row of activation_records. The payload is the
// sealed, signed record exactly as the file store would write it.
type recordRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement:false"`
	Payload   []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (recordRow) TableName() string { return "activation_records" }

// witnessRow marks that an activation existed
type witnessRow struct {
	ID        uint `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

func (witnessRow) TableName() string { return "activation_witness" }

// SQLiteStore keeps the record in an embedded SQLite database, for hosts
// that already ship one.
type SQLiteStore struct {
	db     *gorm.DB
	path   string
	codec  codec
	logger *slog.Logger

	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" in tests.
func NewSQLiteStore(path string, signer *security.Signer, sealer Sealer, log *slog.Logger) (*SQLiteStore, error) {
	if signer == nil {
		return nil, errors.New("sqlite store requires a signer")
	}
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.NewStorageError("open", path, err)
	}

	// One connection keeps ":memory:" databases alive and serializes writers
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&recordRow{}, &witnessRow{}); err != nil {
		return nil, apperrors.NewStorageError("migrate", path, err)
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		codec:  newCodec(signer, sealer),
		logger: log,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context) (*domain.ActivationRecord, error) {
	return get(ctx, s)
}

func (s *SQLiteStore) Put(ctx context.Context, rec domain.ActivationRecord) error {
	return put(ctx, s, rec)
}

func (s *SQLiteStore) IncrementUsage(ctx context.Context) (int, error) {
	return incrementUsage(ctx, s)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(s.remove)
	if err != nil && !apperrors.IsStorageError(err) {
		return apperrors.NewStorageError("clear", s.path, err)
	}
	return err
}

// errCallback carries the callback's own error out of the gorm transaction
// so it is not reported as a storage failure.
type errCallback struct{ err error }

func (e errCallback) Error() string { return e.err.Error() }

// Update runs fn inside a database transaction
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(tx)
		if err != nil {
			return err
		}

		staged := newStagedTx(current)
		if err := fn(staged); err != nil {
			return errCallback{err}
		}
		if !staged.dirty {
			return nil
		}
		if staged.cleared {
			return s.remove(tx)
		}
		return s.write(tx, *staged.rec)
	})

	var cb errCallback
	if errors.As(err, &cb) {
		return cb.err
	}
	if err != nil && !apperrors.IsStorageError(err) {
		return apperrors.NewStorageError("update", s.path, err)
	}
	return err
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) load(tx *gorm.DB) (*domain.ActivationRecord, error) {
	var row recordRow
	err := tx.Where("id = ?", singletonID).Limit(1).Find(&row).Error
	if err != nil {
		return nil, apperrors.NewStorageError("read", s.path, err)
	}

	if row.ID == 0 {
		var witnesses int64
		if err := tx.Model(&witnessRow{}).Count(&witnesses).Error; err != nil {
			return nil, apperrors.NewStorageError("read", s.path, err)
		}
		if witnesses > 0 {
			s.logger.Warn("activation record missing but witness present", slog.String("path", s.path))
			return nil, apperrors.NewStorageError("read", s.path, apperrors.ErrRecordMissing)
		}
		return nil, nil
	}

	rec, err := s.codec.decode(row.Payload)
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

func (s *SQLiteStore) write(tx *gorm.DB, rec domain.ActivationRecord) error {
	payload, err := s.codec.encode(rec)
	if err != nil {
		return apperrors.NewStorageError("encode", s.path, err)
	}

	if err := tx.Save(&recordRow{ID: singletonID, Payload: payload}).Error; err != nil {
		return apperrors.NewStorageError("write", s.path, err)
	}
	var witness witnessRow
	if err := tx.Where(witnessRow{ID: singletonID}).FirstOrCreate(&witness).Error; err != nil {
		return apperrors.NewStorageError("write", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) remove(tx *gorm.DB) error {
	if err := tx.Where("id = ?", singletonID).Delete(&recordRow{}).Error; err != nil {
		return apperrors.NewStorageError("clear", s.path, err)
	}
	if err := tx.Where("1 = 1").Delete(&witnessRow{}).Error; err != nil {
		return apperrors.NewStorageError("clear", s.path, err)
	}
	s.logger.Info("activation record cleared", slog.String("path", s.path))
	return nil
}
