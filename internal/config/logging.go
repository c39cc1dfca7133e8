package config

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the global logrus logger for service.
func SetupLogging(cfg *Config, service string) {
	if cfg.IsProduction() {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogDir == "" {
		return
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		log.Warnf("unable to create folder for log %s", err)
		return
	}

	logFilePath := filepath.Join(cfg.LogDir, service+".log")
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Warnf("unable to open log file %s: %s", logFilePath, err)
		return
	}

	log.SetOutput(io.MultiWriter(os.Stdout, file))
	log.Infof("log to file started for service: %s", service)
}
