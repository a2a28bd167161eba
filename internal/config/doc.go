// Package config loads keygate configuration.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources, later ones winning:
//
//  1. Default values
//  2. A YAML file (KEYGATE_CONFIG, ./keygate.yaml or ./configs/keygate.yaml)
//  3. Environment variables
//
// # Environment Variables
//
// All environment variables follow the pattern KEYGATE_<SECTION>_<FIELD>:
//
//	KEYGATE_ACTIVATION_STATE_DIR=/var/lib/myapp/keygate
//	KEYGATE_ACTIVATION_STORE=sqlite
//	KEYGATE_ACTIVATION_CLOCK_TOLERANCE=5m
//	KEYGATE_LOGGING_LEVEL=debug
//	KEYGATE_SERVER_ADDR=127.0.0.1:8757
//
// # Validation
//
// The assembled configuration is validated with go-playground/validator
// struct tags before it is returned.
package config
