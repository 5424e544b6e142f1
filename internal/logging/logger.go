// Package logging wires zap the way every cmd/ entrypoint expects:
// production JSON logging, or a development console encoder when
// LOG_FORMAT=console.
package logging

import (
	"os"

	"go.uber.org/zap"
)

func New(serviceName string) *zap.Logger {
	var log *zap.Logger
	var err error
	if os.Getenv("LOG_FORMAT") == "console" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		log = zap.NewNop()
	}
	return log.With(zap.String("service", serviceName))
}
