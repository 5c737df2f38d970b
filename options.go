package ipc

import (
	"time"

	"go.uber.org/zap"
)

// DefaultPayloadSize is the per-ring payload capacity used when
// WithPayloadSize is not supplied, matching the reference default of 4096
// bytes.
const DefaultPayloadSize uint32 = 4096

// config collects Open's functional options (§11 of SPEC_FULL.md).
type config struct {
	payloadSize  uint32
	logger       *zap.Logger
	pollInterval time.Duration
}

// Option configures Open.
type Option func(*config)

// WithPayloadSize overrides the per-ring payload capacity P. The backing
// file is sized as H + 2*(B + P + 1); an existing file keeps whatever size
// it was created with regardless of the value passed here.
func WithPayloadSize(n uint32) Option {
	return func(c *config) { c.payloadSize = n }
}

// WithLogger injects a *zap.Logger for lifecycle and diagnostic events
// (§10 of SPEC_FULL.md). The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPollInterval overrides the fixed polling cadence used by blocking
// Send/Recv calls. Production code should leave this at its 100ms default;
// it exists so tests don't have to wait out real poll quanta.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func newConfig(opts []Option) config {
	c := config{
		payloadSize:  DefaultPayloadSize,
		logger:       zap.NewNop(),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
