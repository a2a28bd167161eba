// Package store persists the single activation record of an installation.
//
// Every backend serializes access through Update, which runs a callback as
// one critical section: the callback reads and stages changes through a Tx
// and the changes are committed only if it returns nil.
package store

import (
	"context"
	"errors"

	"keygate/pkg/contracts/domain"
)

// ErrNoRecord is returned by IncrementUsage when nothing has been activated
var ErrNoRecord = errors.New("no activation record")

// Tx is the view of the record inside a critical section
type Tx interface {
	// Get returns the current record, or nil when none exists
	Get() (*domain.ActivationRecord, error)
	Put(rec domain.ActivationRecord) error
	// IncrementUsage bumps the usage count and returns the new value
	IncrementUsage() (int, error)
	Clear() error
}

// Store is an atomic holder for the activation record
type Store interface {
	Get(ctx context.Context) (*domain.ActivationRecord, error)
	Put(ctx context.Context, rec domain.ActivationRecord) error
	IncrementUsage(ctx context.Context) (int, error)
	// Clear deletes the record and its witness without reading them, so it
	// also succeeds on a tampered or half-deleted record
	Clear(ctx context.Context) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Sealer encrypts persisted bytes at rest
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Plain is the pass-through Sealer used when no encryption key is configured
type Plain struct{}

func (Plain) Seal(b []byte) ([]byte, error) { return b, nil }
func (Plain) Open(b []byte) ([]byte, error) { return b, nil }

// stagedTx buffers changes made inside a critical section
type stagedTx struct {
	rec     *domain.ActivationRecord
	dirty   bool
	cleared bool
}

func newStagedTx(rec *domain.ActivationRecord) *stagedTx {
	return &stagedTx{rec: rec}
}

func (t *stagedTx) Get() (*domain.ActivationRecord, error) {
	if t.rec == nil {
		return nil, nil
	}
	rec := t.rec.Clone()
	return &rec, nil
}

func (t *stagedTx) Put(rec domain.ActivationRecord) error {
	next := rec.Clone()
	t.rec = &next
	t.dirty = true
	t.cleared = false
	return nil
}

func (t *stagedTx) IncrementUsage() (int, error) {
	if t.rec == nil {
		return 0, ErrNoRecord
	}
	t.rec.UsageCount++
	t.dirty = true
	return t.rec.UsageCount, nil
}

func (t *stagedTx) Clear() error {
	t.rec = nil
	t.dirty = true
	t.cleared = true
	return nil
}

// Convenience one-shot operations shared by every backend

func get(ctx context.Context, s Store) (*domain.ActivationRecord, error) {
	var out *domain.ActivationRecord
	err := s.Update(ctx, func(tx Tx) error {
		rec, err := tx.Get()
		out = rec
		return err
	})
	return out, err
}

func put(ctx context.Context, s Store, rec domain.ActivationRecord) error {
	return s.Update(ctx, func(tx Tx) error { return tx.Put(rec) })
}

func incrementUsage(ctx context.Context, s Store) (int, error) {
	var count int
	err := s.Update(ctx, func(tx Tx) error {
		n, err := tx.IncrementUsage()
		count = n
		return err
	})
	return count, err
}
