// Package logging constructs the engine's structured logger. The teacher
// logs through a prefixed stdlib *log.Logger (internal/server/server.go);
// this module generalizes that single prefixed sink to structured,
// leveled logging via go.uber.org/zap, sourced from the wider example pack
// since the teacher's own logging has no fields to carry case/phase
// context through.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-shaped zap.Logger: JSON encoding, ISO8601
// timestamps, and the given minimum level. debug=true switches to a
// console encoder for local runs, matching how the teacher's "[kilroy-*]"
// prefixed loggers read during development.
func New(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Named returns a child logger scoped to a component name, mirroring the
// teacher's per-component prefixes ("[kilroy-server]", "[kilroy-engine]").
func Named(base *zap.Logger, component string) *zap.Logger {
	return base.Named(component)
}
