package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackwatch/trackwatch/cmd/config"
	"github.com/trackwatch/trackwatch/cmd/realtime"
	"github.com/trackwatch/trackwatch/cmd/replay"
	"github.com/trackwatch/trackwatch/cmd/roi"
	"github.com/trackwatch/trackwatch/internal/buildinfo"
	"github.com/trackwatch/trackwatch/internal/conf"
	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

var (
	centralLogger *logger.CentralLogger
	reporter      *errors.SentryReporter
)

// RootCommand creates and returns the root command. settings is populated
// from the configuration file, environment and flags before any
// subcommand runs.
func RootCommand(settings *conf.Settings, info *buildinfo.Info) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "trackwatch",
		Short:        "On-vehicle track hazard detection",
		Long:         "Detects objects and texture anomalies on the track ahead and publishes acknowledged alerts over MQTT.",
		Version:      info.String(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (default: search ., ~/.config/trackwatch, /etc/trackwatch)")
	if err := setupFlags(rootCmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		realtime.Command(settings),
		replay.Command(settings),
		roi.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := conf.BindFlags(cmd.Flags(), cmd.InheritedFlags()); err != nil {
			return err
		}
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return initialize(settings, info)
	}

	return rootCmd
}

// initialize sets up logging and error reporting once settings are known.
func initialize(settings *conf.Settings, info *buildinfo.Info) error {
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	logger.SetGlobal(cl)
	centralLogger = cl

	log := logger.Global().Module("main")
	if settings.Sentry.Enabled {
		reporter, err = errors.InitSentry(settings.Sentry.DSN, info.Release(), settings.Main.Name)
		if err != nil {
			log.Warn("error reporting disabled", logger.Error(err))
		}
	}

	log.Info("configuration loaded",
		logger.String("file", conf.ConfigFileUsed()),
		logger.String("version", info.GetVersion()),
		logger.String("train", settings.Main.Name))
	return nil
}

// Shutdown flushes error reports and closes log files.
func Shutdown() {
	if reporter != nil {
		reporter.Flush(sentryFlushTimeout)
	}
	if centralLogger != nil {
		_ = centralLogger.Close()
	}
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.String("train", "", "Train id used in topics and message ids")
	flags.String("loglevel", "", "Log level (debug, info, warn, error)")
	flags.String("broker", "", "MQTT broker host")

	for _, err := range []error{
		conf.AnnotateFlag(flags, "train", "main.name"),
		conf.AnnotateFlag(flags, "loglevel", "logging.defaultlevel", "logging.console.level"),
		conf.AnnotateFlag(flags, "broker", "mqtt.host"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
