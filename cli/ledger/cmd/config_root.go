package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/ledgercore/internal/logger"
)

type baseConfiguration struct {
	// The ledger home directory
	HomeDir string
	// Configuration file URL. If it's relative, then it's relative from the HomeDir.
	CfgFile string
	// Logger configuration file URL.
	LogCfgFile string
}

const (
	// The prefix for configuration keys inside environment.
	envPrefix = "LC"
	// The default name for config file.
	defaultConfigFile = "config.props"
	// the default ledger directory.
	defaultLedgerDir = ".ledgercore"
	// The default logger configuration file name.
	defaultLoggerConfigFile = "logger-config.yaml"
	// The configuration key for home directory.
	keyHome = "home"
	// The configuration key for config file name.
	keyConfig = "config"

	flagNameLoggerCfgFile = "logger-config"
	flagNameLogLevel      = "log-level"
)

func (r *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&r.HomeDir, keyHome, "", fmt.Sprintf("set the LC_HOME for this invocation (default is %s)", ledgerHomeDir()))
	cmd.PersistentFlags().StringVar(&r.CfgFile, keyConfig, "", fmt.Sprintf("config file URL (default is $LC_HOME/%s)", defaultConfigFile))
	cmd.PersistentFlags().StringVar(&r.LogCfgFile, flagNameLoggerCfgFile, defaultLoggerConfigFile, "logger config file URL. Considered absolute if starts with '/'. Otherwise relative from $LC_HOME.")
	// no default value, the level from the logger config file is used unless the flag is set
	cmd.PersistentFlags().String(flagNameLogLevel, "", "default logging level, one of: NONE, ERROR, WARNING, INFO, DEBUG, TRACE")
}

func (r *baseConfiguration) initConfigFileLocation() {
	// Home directory and config file are special configuration values as these are used for loading in rest of the configuration.
	// Handle these manually, before other configuration loaded with Viper.

	// Home dir is loaded from command line argument. If it's not set, then from env. If that's not set, then default is used.
	if r.HomeDir == "" {
		r.HomeDir = os.Getenv(envKey(keyHome))
		if r.HomeDir == "" {
			r.HomeDir = ledgerHomeDir()
		}
	}

	// Config file name is loaded from command line argument. If it's not set, then from env. If that's not set, then default is used.
	if r.CfgFile == "" {
		r.CfgFile = os.Getenv(envKey(keyConfig))
		if r.CfgFile == "" {
			r.CfgFile = defaultConfigFile
		}
	}
	if !filepath.IsAbs(r.CfgFile) {
		r.CfgFile = filepath.Join(r.HomeDir, r.CfgFile)
	}
}

/*
LoggerCfgFilename always returns non-empty filename - either the value
of the flag set by user or default cfg location.
*/
func (r *baseConfiguration) LoggerCfgFilename() string {
	if !filepath.IsAbs(r.LogCfgFile) {
		return filepath.Join(r.HomeDir, r.LogCfgFile)
	}
	return r.LogCfgFile
}

func (r *baseConfiguration) configFileExists() bool {
	_, err := os.Stat(r.CfgFile)
	return err == nil
}

/*
initLogger configures the global logger from the logger configuration file.
A missing default configuration file is not an error, developer defaults
are used then. The --log-level flag overrides the default level.
*/
func (r *baseConfiguration) initLogger(cmd *cobra.Command) error {
	logger.InitializeGlobalLogger()

	loggerCfgFile := filepath.Clean(r.LoggerCfgFilename())
	if _, err := os.Stat(loggerCfgFile); err != nil {
		defaultLoggerCfg := filepath.Join(r.HomeDir, defaultLoggerConfigFile)
		if !(errors.Is(err, os.ErrNotExist) && loggerCfgFile == defaultLoggerCfg) {
			return fmt.Errorf("logger configuration file: %w", err)
		}
	} else if err := logger.UpdateGlobalConfigFromFile(loggerCfgFile); err != nil {
		return fmt.Errorf("loading logger configuration (%s): %w", loggerCfgFile, err)
	}

	if cmd.Flags().Changed(flagNameLogLevel) {
		level, err := cmd.Flags().GetString(flagNameLogLevel)
		if err != nil {
			return fmt.Errorf("failed to read %s flag value: %w", flagNameLogLevel, err)
		}
		logger.SetDefaultLevel(logger.LevelFromString(level))
	}
	return nil
}

func envKey(key string) string {
	return strings.ToUpper(envPrefix + "_" + key)
}

func ledgerHomeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		panic("default user home dir not defined: " + err.Error())
	}
	return filepath.Join(dir, defaultLedgerDir)
}
