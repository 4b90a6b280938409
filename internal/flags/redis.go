package flags

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultKeyPrefix namespaces flag keys in Redis
const DefaultKeyPrefix = "pipeline:flags:"

// RedisProvider reads flags from Redis string keys. A missing key or an
// unreachable server falls back to the wrapped provider.
type RedisProvider struct {
	client   redis.UniversalClient
	prefix   string
	timeout  time.Duration
	fallback Provider
	logger   logrus.FieldLogger
}

// NewRedisProvider creates a Redis-backed provider
func NewRedisProvider(client redis.UniversalClient, fallback Provider, logger logrus.FieldLogger) *RedisProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if fallback == nil {
		fallback = NewStaticProvider(false, ModeOff)
	}
	return &RedisProvider{
		client:   client,
		prefix:   DefaultKeyPrefix,
		timeout:  500 * time.Millisecond,
		fallback: fallback,
		logger:   logger,
	}
}

// WithPrefix overrides the key prefix
func (p *RedisProvider) WithPrefix(prefix string) *RedisProvider {
	p.prefix = prefix
	return p
}

func (p *RedisProvider) get(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	val, err := p.client.Get(ctx, p.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.WithError(err).WithField("key", key).Warn("failed to read flag from Redis, using fallback")
		}
		return "", false
	}
	return val, true
}

// LoggingEnabled reads <prefix>PIPELINE_LOGGING_ENABLED
func (p *RedisProvider) LoggingEnabled(ctx context.Context) bool {
	raw, ok := p.get(ctx, LoggingEnabledKey)
	if !ok {
		return p.fallback.LoggingEnabled(ctx)
	}
	return parseLogging(raw, p.logger)
}

// ValidationMode reads <prefix>IR_VALIDATION_MODE
func (p *RedisProvider) ValidationMode(ctx context.Context) ValidationMode {
	raw, ok := p.get(ctx, ValidationModeKey)
	if !ok {
		return p.fallback.ValidationMode(ctx)
	}
	return parseModeOrOff(raw, p.logger)
}

// Set writes a flag value, used by operators and tests
func (p *RedisProvider) Set(ctx context.Context, key, value string) error {
	return p.client.Set(ctx, p.prefix+key, value, 0).Err()
}
