package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DeviceIDFile is the file name of the persisted fallback id
const DeviceIDFile = "device.id"

// Persisted is the last resort: a random id generated once and stored in the
// activation state directory. It changes only if the state is wiped, which is
// a reinstall.
type Persisted struct {
	Dir string
}

func (p Persisted) Name() string { return "persisted" }

func (p Persisted) Lookup(ctx context.Context) (string, error) {
	path := filepath.Join(p.Dir, DeviceIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
		return "", fmt.Errorf("corrupt device id file %s", path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	id := uuid.NewString()
	tmp, err := os.CreateTemp(p.Dir, DeviceIDFile+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create device id file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(id + "\n"); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write device id: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync device id: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	// Link fails if another process won the race, in which case its id is kept
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return p.Lookup(ctx)
		}
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}

// Default returns the standard resolution chain for the given state
// directory. A non-empty configured id short-circuits everything else.
func Default(configured, stateDir string) []Source {
	return []Source{
		Configured(configured),
		MachineID{},
		Fingerprint{},
		Persisted{Dir: stateDir},
	}
}
