// Package logging constructs the process logger and keeps user content out
// of log output.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the process logger for the given environment name. Local
// environments get a human-readable development config; everything else
// logs structured JSON at info level.
func New(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "local" || env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
