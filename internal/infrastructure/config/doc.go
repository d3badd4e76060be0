// Package config handles loading and validating Motion Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MOTIONCORE_* environment variables
//   - Validation of required fields
//   - Reloading the file when it changes on disk
//
// Security Considerations:
//   - API keys and passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - An empty JWT secret leaves the HTTP API unauthenticated
//
// Reloading:
//
// Watcher re-reads the file on change and passes valid results to
// subscribers. Only the device envelope and analysis settings are applied
// live, and they take effect for the next playback session or analysis.
// Everything else needs a restart.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Envelope())
package config
