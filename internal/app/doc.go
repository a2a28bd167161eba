// Package app wires the activation host together and manages its lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration from defaults, an optional YAML file and KEYGATE_* variables
//  2. Initialize logging and OpenTelemetry
//  3. Load the code registry (embedded bundle or KEYGATE_ACTIVATION_REGISTRY_PATH)
//  4. Open the record store with its signer and optional sealer
//  5. Build the validator and status service over the clock guard and device identity
//  6. Start the websocket hub and status watcher
//  7. Mount the local API and serve it
//
// # Usage
//
//	a, err := app.NewApplication(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// Run performs a launch check before serving, so the clock sighting on the
// record is refreshed on every start. It returns once ctx is cancelled and
// the server, hub, telemetry and store have been shut down. The package
// never calls os.Exit.
package app
