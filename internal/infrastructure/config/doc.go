// Package config handles loading and validating pgdesk configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (PGDESK_SECTION_KEY)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The engine credential is a fixed local credential; the engine only
//     listens on localhost
//   - Secrets (MQTT password, InfluxDB token) should be set via environment variables
//
// Usage:
//
//	cfg, err := config.LoadOrDefault("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Engine.Port)
package config
