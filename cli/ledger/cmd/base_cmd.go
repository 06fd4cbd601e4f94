package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ledgerApp struct {
	baseCmd    *cobra.Command
	baseConfig *baseConfiguration
	nodeRunFn  nodeRunnable
}

// New creates a new ledger application
func New() *ledgerApp {
	baseCmd, baseConfig := newBaseCmd()
	return &ledgerApp{baseCmd: baseCmd, baseConfig: baseConfig}
}

// WithNodeRunFunc replaces the function started by the node command.
func (a *ledgerApp) WithNodeRunFunc(fn nodeRunnable) *ledgerApp {
	a.nodeRunFn = fn
	return a
}

// Execute adds all child commands and runs the application
func (a *ledgerApp) Execute(ctx context.Context) error {
	return a.addAndExecuteCommand(ctx)
}

func (a *ledgerApp) addAndExecuteCommand(ctx context.Context) error {
	a.baseCmd.AddCommand(newKeysCmd(a.baseConfig))
	a.baseCmd.AddCommand(newGenesisCmd(a.baseConfig))
	a.baseCmd.AddCommand(newNodeCmd(a.baseConfig, a.nodeRunFn))
	a.baseCmd.AddCommand(newSendCmd(a.baseConfig))
	a.baseCmd.AddCommand(newBalanceCmd(a.baseConfig))
	return a.baseCmd.ExecuteContext(ctx)
}

func newBaseCmd() (*cobra.Command, *baseConfiguration) {
	config := &baseConfiguration{}
	// baseCmd represents the base command when called without any subcommands
	var baseCmd = &cobra.Command{
		Use:           "ledger",
		Short:         "The ledger node CLI",
		Long:          `The ledger CLI generates keys and genesis, runs a node and submits transactions to it.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// If subcommand does not define PersistentPreRunE, the one from base cmd is used.
			if err := initializeConfig(cmd, config); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addConfigurationFlags(baseCmd)
	return baseCmd, config
}

func initializeConfig(cmd *cobra.Command, config *baseConfiguration) error {
	var errs []error
	if err := config.initializeConfig(cmd); err != nil {
		errs = append(errs, fmt.Errorf("reading configuration: %w", err))
	}
	if err := config.initLogger(cmd); err != nil {
		errs = append(errs, fmt.Errorf("initializing logger: %w", err))
	}
	return errors.Join(errs...)
}

// initializeConfig reads in config file and ENV variables if set.
func (config *baseConfiguration) initializeConfig(cmd *cobra.Command) error {
	v := viper.New()

	config.initConfigFileLocation()

	if config.configFileExists() {
		v.SetConfigFile(config.CfgFile)
	}

	// Attempt to read the config file, gracefully ignoring errors
	// caused by a config file not being found. Return an error
	// if we cannot parse the config file.
	if err := v.ReadInConfig(); err != nil {
		// It's okay if there isn't a config file
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	// When we bind flags to environment variables expect that the
	// environment variables are prefixed, e.g. a flag like --number
	// binds to an environment variable LC_NUMBER.
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := bindFlags(cmd, v); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// Bind each cobra flag to its associated viper configuration (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var bindFlagErr []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == keyHome || f.Name == keyConfig {
			// "home" and "config" are special configuration values, handled separately.
			return
		}

		// Environment variables can't have dashes in them, so bind them to their equivalent
		// keys with underscores, e.g. --rest-address to LC_REST_ADDRESS
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				bindFlagErr = append(bindFlagErr, fmt.Errorf("binding env to flag %q: %w", f.Name, err))
				return
			}
		}

		// Apply the viper config value to the flag when the flag is not set and viper has a value
		if !f.Changed && v.IsSet(f.Name) {
			if err := setFlagFromConfig(cmd.Flags(), f, v.Get(f.Name)); err != nil {
				bindFlagErr = append(bindFlagErr, err)
			}
		}
	})
	return errors.Join(bindFlagErr...)
}

// setFlagFromConfig assigns the config value to the flag. List values
// (config file arrays) are appended one by one to slice flags.
func setFlagFromConfig(flags *pflag.FlagSet, f *pflag.Flag, val any) error {
	if list, ok := val.([]any); ok {
		for _, item := range list {
			if err := flags.Set(f.Name, fmt.Sprintf("%v", item)); err != nil {
				return fmt.Errorf("setting flag %q value: %w", f.Name, err)
			}
		}
		return nil
	}
	if err := flags.Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
		return fmt.Errorf("setting flag %q value: %w", f.Name, err)
	}
	return nil
}
