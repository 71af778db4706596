// Package logging provides structured logging for the Boneco bridge.
//
// It wraps log/slog so every component logs key/value records with the
// same default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file: "/var/log/boneco/bridge.log"
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, version)
//	logger.Component("pairing").Info("flow started", "address", addr)
//
// # Security
//
// Never log device keys. Log the address and, at most, whether a key is set.
package logging
