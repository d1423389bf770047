// Package logging provides structured logging for scanlink.
//
// It wraps log/slog so every component logs with the same default
// fields (service, version) and the same level filtering.
//
// Logging is configured via the LoggingConfig section:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("discovery").Info("scan started", "filter", prefix)
//
// Never log the driver app key, MQTT password or InfluxDB token.
package logging
