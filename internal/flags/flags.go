// Package flags reads the process-wide feature flags that gate telemetry and
// IR validation. Values are read on every call so that a flip takes effect
// on the next run without a redeploy.
package flags

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// LoggingEnabledKey is the master switch for run telemetry
	LoggingEnabledKey = "PIPELINE_LOGGING_ENABLED"

	// ValidationModeKey selects the IR validation mode
	ValidationModeKey = "IR_VALIDATION_MODE"
)

// ValidationMode is one of off, log or enforce
type ValidationMode string

const (
	ModeOff     ValidationMode = "off"
	ModeLog     ValidationMode = "log"
	ModeEnforce ValidationMode = "enforce"
)

// ParseMode parses a validation mode, case-insensitively. Empty means off.
func ParseMode(s string) (ValidationMode, error) {
	switch ValidationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeOff:
		return ModeOff, nil
	case ModeLog:
		return ModeLog, nil
	case ModeEnforce:
		return ModeEnforce, nil
	}
	return ModeOff, fmt.Errorf("invalid validation mode: %q", s)
}

// Provider exposes the current flag values
type Provider interface {
	LoggingEnabled(ctx context.Context) bool
	ValidationMode(ctx context.Context) ValidationMode
}

// parseLogging interprets a raw flag value; unset or malformed means disabled
func parseLogging(raw string, logger logrus.FieldLogger) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		logger.WithField("value", raw).Warnf("invalid %s, telemetry disabled", LoggingEnabledKey)
		return false
	}
	return enabled
}

func parseModeOrOff(raw string, logger logrus.FieldLogger) ValidationMode {
	mode, err := ParseMode(raw)
	if err != nil {
		logger.WithError(err).Warnf("invalid %s, falling back to %s", ValidationModeKey, ModeOff)
	}
	return mode
}

// EnvProvider reads flags from the process environment
type EnvProvider struct {
	logger logrus.FieldLogger
}

// NewEnvProvider creates a provider backed by os.Getenv
func NewEnvProvider(logger logrus.FieldLogger) *EnvProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EnvProvider{logger: logger}
}

// LoggingEnabled reads PIPELINE_LOGGING_ENABLED
func (p *EnvProvider) LoggingEnabled(ctx context.Context) bool {
	return parseLogging(os.Getenv(LoggingEnabledKey), p.logger)
}

// ValidationMode reads IR_VALIDATION_MODE
func (p *EnvProvider) ValidationMode(ctx context.Context) ValidationMode {
	return parseModeOrOff(os.Getenv(ValidationModeKey), p.logger)
}

// StaticProvider holds flag values in memory. Used by tests and the CLI.
type StaticProvider struct {
	mu      sync.RWMutex
	logging bool
	mode    ValidationMode
}

// NewStaticProvider creates a provider with fixed initial values
func NewStaticProvider(logging bool, mode ValidationMode) *StaticProvider {
	return &StaticProvider{logging: logging, mode: mode}
}

func (p *StaticProvider) LoggingEnabled(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.logging
}

func (p *StaticProvider) ValidationMode(ctx context.Context) ValidationMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.mode == "" {
		return ModeOff
	}
	return p.mode
}

// SetLogging flips the logging flag
func (p *StaticProvider) SetLogging(enabled bool) {
	p.mu.Lock()
	p.logging = enabled
	p.mu.Unlock()
}

// SetValidationMode changes the validation mode
func (p *StaticProvider) SetValidationMode(mode ValidationMode) {
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
}
