package cli

import (
	"os"

	"github.com/grovetools/memory/config"
	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/sirupsen/logrus"
)

// BootstrapLogger is used before the configuration is loaded. It writes to
// stderr only.
func BootstrapLogger(opts CommandOptions) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logging.TextFormatter{Config: logging.FormatConfig{DisableComponent: true}})
	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

// SetupLogging applies the logging extension of cfg. Log files go under the
// memory root; --verbose raises the level to debug.
func SetupLogging(cfg *config.Config, opts CommandOptions) error {
	var logCfg logging.Config
	if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		return err
	}
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	err := logging.Configure(logCfg, paths.NewLayout(cfg.Root).Logs())
	if opts.Verbose {
		logging.SetLevel(logrus.DebugLevel)
	}
	return err
}
