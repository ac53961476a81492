// Package config handles loading and validating devcontrol configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The superuser password and kick PSK should be set via environment variables
//     (DEVCONTROL_MQTT_PASSWORD, DEVCONTROL_AUTH_KICK_PSK) or a .env file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/devcontrol.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
