// Package logging provides structured logging for devcontrol.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON or text output
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Time-rotated file output (file-rotatelogs), also used for the
//     broker's diagnostic log
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr, file
//	  file:
//	    path: "./data/devcontrol.log"
//	    max_age_days: 7
//	    rotation_hours: 24
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, version)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	logger.Info("device connected", "device", name)
//
// # Security
//
// Never log device secrets or the superuser password. Credentials published
// to devices are logged by username only.
package logging
