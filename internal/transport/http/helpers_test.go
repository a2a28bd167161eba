package http

import "os"

func overwrite(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
