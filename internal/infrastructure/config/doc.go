// Package config handles loading and validating fieldlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with FIELDLINK_* environment variables
//   - Validation of required fields
//   - Default value handling (radio timings, GATT identifiers, scheduler policy)
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be set
//     via environment variables
//   - The JWT secret signs operator tokens that authorise trust decisions
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.BLE.ScanInterval)
package config
