package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/braidnetworks/braid/src/braid"
)

//NewRunCmd returns the command that starts a Braid node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runBraid,
	}
	AddRunFlags(cmd)
	return cmd
}

func runBraid(cmd *cobra.Command, args []string) error {
	engine := braid.NewBraid(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Duplicate log output to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for braid node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for braid node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP API service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Load from database")

	// Gossip
	cmd.Flags().Duration("heartbeat", _config.HeartbeatTimeout, "Time between gossips when busy")
	cmd.Flags().Duration("slow-heartbeat", _config.SlowHeartbeatTimeout, "Time between gossips when idle")
	cmd.Flags().Int("max-payload", _config.MaxPayloadSize, "Max total transaction bytes per event")
	cmd.Flags().Int64("max-sessions", _config.MaxSessions, "Max simultaneous gossip sessions")
	cmd.Flags().Int("intake-size", _config.IntakeSize, "Capacity of the admitted-events queue")
	cmd.Flags().Int64("ancient-window", _config.AncientWindow, "Generations kept before expiry (0 keeps all)")
	cmd.Flags().Bool("extra-random-event", _config.ExtraRandomEvent, "Create a second event with a random other-parent after each sync")
	cmd.Flags().Bool("maintenance-mode", _config.MaintenanceMode, "Start in a suspended state")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	// If --datadir was explicitly set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":              _config.DataDir,
		"BindAddr":             _config.BindAddr,
		"AdvertiseAddr":        _config.AdvertiseAddr,
		"NoService":            _config.NoService,
		"ServiceAddr":          _config.ServiceAddr,
		"LogLevel":             _config.LogLevel,
		"Moniker":              _config.Moniker,
		"HeartbeatTimeout":     _config.HeartbeatTimeout,
		"SlowHeartbeatTimeout": _config.SlowHeartbeatTimeout,
		"TCPTimeout":           _config.TCPTimeout,
		"MaxPayloadSize":       _config.MaxPayloadSize,
		"MaxSessions":          _config.MaxSessions,
		"IntakeSize":           _config.IntakeSize,
		"AncientWindow":        _config.AncientWindow,
		"ExtraRandomEvent":     _config.ExtraRandomEvent,
		"MaintenanceMode":      _config.MaintenanceMode,
		"Store":                _config.Store,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
		logFields["Bootstrap"] = _config.Bootstrap
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all
	// other persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/braid.toml (.json, .yaml also work)
	viper.SetConfigName("braid")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
