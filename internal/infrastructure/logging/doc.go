// Package logging provides structured logging for fieldlink.
//
// It wraps log/slog so every component emits the same shape of record:
// JSON in production, text during development, always tagged with the
// service name and build version.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	radioLog := logger.Component("discovery")
//	radioLog.Info("scan complete", "new_devices", n)
//
// Never log secrets or operator tokens.
package logging
