package clock

import "time"

var processStart = time.Now()

// processMono is Go's in-process monotonic clock. It restarts with the
// process, which bootIdentity accounts for off Linux.
func processMono() time.Duration {
	return time.Since(processStart)
}
