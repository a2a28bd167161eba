//go:build !linux

package clock

import (
	"time"

	"github.com/google/uuid"
)

func sinceBoot() time.Duration {
	return processMono()
}

// bootIdentity is per process here because sinceBoot restarts with the
// process, so every start must be treated as a new boot.
func bootIdentity() string {
	return "proc-" + uuid.NewString()
}
