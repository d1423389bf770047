// Package config handles loading and validating scanlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token, driver app key) should be
// set via environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/scanlink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bluetooth.Adapter)
package config
