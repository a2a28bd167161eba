package identity

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
)

// DefaultMachineIDPaths are consulted in order by MachineID
var DefaultMachineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// MachineID derives the device id from the operating system machine id.
// The id is stable until the OS is reinstalled.
type MachineID struct {
	Paths []string
}

func (m MachineID) Name() string { return "machine-id" }

func (m MachineID) Lookup(context.Context) (string, error) {
	paths := m.Paths
	if len(paths) == 0 {
		paths = DefaultMachineIDPaths
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			continue
		}
		if err != nil {
			return "", err
		}

		raw := strings.TrimSpace(string(data))
		// systemd writes "uninitialized" during first boot
		if raw == "" || raw == "uninitialized" {
			continue
		}
		return derive("machine-id", raw), nil
	}
	return "", ErrUnavailable
}
