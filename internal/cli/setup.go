package cli

import (
	"fmt"

	"github.com/cvpilot/cvpilot/internal/config"
	"github.com/cvpilot/cvpilot/internal/logger"
	"github.com/cvpilot/cvpilot/internal/service"
)

// buildService loads configuration, sets up logging, and wires the
// engine. The returned cleanup closes both.
func buildService() (*service.Service, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	svc, err := service.New(cfg, service.Deps{}, log.GetZerolog())
	if err != nil {
		log.Close()
		return nil, nil, err
	}

	cleanup := func() {
		svc.Close()
		log.Close()
	}
	return svc, cleanup, nil
}
