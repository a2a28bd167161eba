package config

import (
	"time"

	"keygate/pkg/contracts"
)

// Application constants
const (
	AppName    = "keygate"
	AppVersion = contracts.Version

	// EnvPrefix namespaces every environment variable (KEYGATE_*)
	EnvPrefix = "KEYGATE"

	// StateDirName is created under the per-user config directory
	StateDirName = "keygate"

	DefaultLogFile = "logs/keygate.log"

	DefaultClockTolerance = 2 * time.Minute

	// Activation attempts per second and burst per client
	DefaultActivationRPS   = 0.5
	DefaultActivationBurst = 5

	DefaultStatusInterval = 5 * time.Second
)
