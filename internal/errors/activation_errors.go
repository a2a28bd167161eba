package errors

import (
	"errors"
	"fmt"
)

// Activation store and identity errors. Policy outcomes are never errors;
// they travel as domain.ActivationResult values.
var (
	ErrStorage           = errors.New("activation storage failure")
	ErrRecordTampered    = errors.New("activation record signature mismatch")
	ErrRecordMissing     = errors.New("activation record missing while witness present")
	ErrUnsupportedSchema = errors.New("unsupported activation record schema")
	ErrIdentity          = errors.New("device identity unavailable")
	ErrRegistryInvalid   = errors.New("invalid activation code registry")
)

// StorageError reports an I/O or integrity failure of the activation store.
// Callers must treat it as "unknown, assume invalid".
type StorageError struct {
	Op   string
	Path string
	Err  error
}

// NewStorageError wraps err as a StorageError for the given operation
func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{Op: op, Path: path, Err: err}
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("activation store %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("activation store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStorage) match every StorageError
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsStorageError reports whether err is (or wraps) a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsTampering reports whether err indicates the persisted state was modified or removed
func IsTampering(err error) bool {
	return errors.Is(err, ErrRecordTampered) || errors.Is(err, ErrRecordMissing)
}
