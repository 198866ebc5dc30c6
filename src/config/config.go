package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	lfshook "github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/braidnetworks/braid/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the
	// validator's private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel             = "debug"
	DefaultBindAddr             = "127.0.0.1:1337"
	DefaultServiceAddr          = "127.0.0.1:8000"
	DefaultHeartbeatTimeout     = 10 * time.Millisecond
	DefaultSlowHeartbeatTimeout = 1000 * time.Millisecond
	DefaultTCPTimeout           = 1000 * time.Millisecond
	DefaultMaxPayloadSize       = 1024 * 1024
	DefaultMaxSessions          = 8
	DefaultIntakeSize           = 500
	DefaultAncientWindow        = 0
	DefaultStore                = false
	DefaultMaintenanceMode      = false
)

// Config contains all the configuration properties of a Braid node.
type Config struct {
	// DataDir is the top-level directory containing Braid configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates the log output to a file.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node gossips with other
	// nodes. In some cases, there may be a routable address that cannot be
	// bound. Use AdvertiseAddr to advertise a different address to support
	// this. If this address is not routable, the node will be in a constant
	// flapping state as other nodes will treat the non-routability as a
	// failure.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to
	// other nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are
	// registered with the DefaultServerMux of the http package. It is
	// possible that another server in the same process is simultaneously
	// using the DefaultServerMux. In which case, the handlers will be
	// accessible from both servers. This is useful when Braid is used
	// in-memory and expected to use the same endpoint (address:port) as the
	// application's API.
	ServiceAddr string `mapstructure:"service-listen"`

	// HeartbeatTimeout is the frequency of the gossip timer when the node
	// has something to gossip about.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// SlowHeartbeatTimeout is the frequency of the gossip timer when the
	// node has nothing to gossip about.
	SlowHeartbeatTimeout time.Duration `mapstructure:"slow-heartbeat"`

	// TCPTimeout bounds every blocking read and write inside a gossip
	// session.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// MaxPayloadSize is the maximum total serialized size of the
	// transactions carried by one event.
	MaxPayloadSize int `mapstructure:"max-payload"`

	// MaxSessions caps the number of simultaneous gossip sessions across
	// all peers.
	MaxSessions int64 `mapstructure:"max-sessions"`

	// IntakeSize is the capacity of the admitted-events queue.
	IntakeSize int `mapstructure:"intake-size"`

	// AncientWindow is the number of generations kept behind the maximum
	// known generation. Zero keeps everything.
	AncientWindow int64 `mapstructure:"ancient-window"`

	// Store activates persistent storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Bootstrap determines whether to load the ancestry index from an
	// existing database file. Forces Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// MaintenanceMode when set to true causes Braid to initialise in a
	// suspended state, ie. it does not start gossiping.
	MaintenanceMode bool `mapstructure:"maintenance-mode"`

	// ExtraRandomEvent creates a second event after each fruitful session,
	// with a randomly chosen other-parent, to accelerate convergence.
	ExtraRandomEvent bool `mapstructure:"extra-random-event"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the validator.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		BindAddr:             DefaultBindAddr,
		ServiceAddr:          DefaultServiceAddr,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		SlowHeartbeatTimeout: DefaultSlowHeartbeatTimeout,
		TCPTimeout:           DefaultTCPTimeout,
		MaxPayloadSize:       DefaultMaxPayloadSize,
		MaxSessions:          DefaultMaxSessions,
		IntakeSize:           DefaultIntakeSize,
		AncientWindow:        DefaultAncientWindow,
		Store:                DefaultStore,
		MaintenanceMode:      DefaultMaintenanceMode,
		DatabaseDir:          DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level Braid directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitly
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry, with prefix set to "braid".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.DebugLevel: c.LogFile,
					logrus.InfoLevel:  c.LogFile,
					logrus.WarnLevel:  c.LogFile,
					logrus.ErrorLevel: c.LogFile,
					logrus.FatalLevel: c.LogFile,
					logrus.PanicLevel: c.LogFile,
				},
				new(logrus.JSONFormatter),
			))
		}
	}
	return c.logger.WithField("prefix", "braid")
}

// DefaultDatabaseDir returns the default path for the badger database
// files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level Braid
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Braid")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Braid")
		} else {
			return filepath.Join(home, ".braid")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
