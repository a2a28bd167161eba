//go:build !unix

package store

// Cross-process locking is only provided on unix; the in-process mutex
// still serializes a single host.
func lockFile(string) (func(), error) {
	return func() {}, nil
}

// Directory handles cannot be synced on Windows
func syncDir(string) error {
	return nil
}
