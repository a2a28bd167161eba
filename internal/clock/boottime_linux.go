//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// sinceBoot reads CLOCK_BOOTTIME, which keeps counting while the device sleeps
func sinceBoot() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return processMono()
	}
	return time.Duration(ts.Nano())
}

func bootIdentity() string {
	return readKernelBootID()
}
