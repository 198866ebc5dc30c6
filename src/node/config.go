package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/braidnetworks/braid/src/common"
)

// Config holds the parameters of the gossip loop.
type Config struct {
	// HeartbeatTimeout is the interval between gossip rounds while the node
	// has something to say. SlowHeartbeatTimeout applies otherwise.
	HeartbeatTimeout     time.Duration `mapstructure:"heartbeat"`
	SlowHeartbeatTimeout time.Duration `mapstructure:"slow-heartbeat"`

	// TCPTimeout bounds every blocking read and write inside a session; a
	// silent peer becomes an I/O failure.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// MaxPayloadSize is the admission gate's bound on the total serialized
	// transaction payload of one event.
	MaxPayloadSize int `mapstructure:"max-payload"`

	// MaxSessions caps the number of simultaneous gossip sessions across
	// all peers, inbound and outbound combined.
	MaxSessions int64 `mapstructure:"max-sessions"`

	// IntakeSize is the capacity of the admitted-events queue. A full
	// queue applies backpressure on every session's read side.
	IntakeSize int `mapstructure:"intake-size"`

	// AncientWindow is the number of generations kept behind the maximum
	// known generation; events older than that are expired from the index.
	// Zero disables expiry.
	AncientWindow int64 `mapstructure:"ancient-window"`

	// SuspendOnFallenBehind suspends the node when peers holding more than
	// two thirds of the total stake have reported it fallen behind. Set
	// false to keep gossiping regardless.
	SuspendOnFallenBehind bool `mapstructure:"suspend"`

	// ExtraRandomEvent creates a second event after each fruitful session,
	// with a randomly chosen other-parent, to accelerate convergence.
	ExtraRandomEvent bool `mapstructure:"extra-random-event"`

	Logger *logrus.Logger
}

// DefaultConfig returns a Config with sane defaults.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout:      10 * time.Millisecond,
		SlowHeartbeatTimeout:  1000 * time.Millisecond,
		TCPTimeout:            1000 * time.Millisecond,
		MaxPayloadSize:        1024 * 1024,
		MaxSessions:           8,
		IntakeSize:            500,
		AncientWindow:         0,
		SuspendOnFallenBehind: true,
		ExtraRandomEvent:      false,
		Logger:                logger,
	}
}

// TestConfig returns a Config for tests, logging through testing.T.
func TestConfig(t *testing.T) *Config {
	config := DefaultConfig()
	config.Logger = common.NewTestLogger(t)
	return config
}
