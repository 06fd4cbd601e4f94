package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const defaultTimeLocation = "Local"

type GlobalConfig struct {
	DefaultLevel    LogLevel
	PackageLevels   map[string]LogLevel
	Writer          io.Writer
	ConsoleFormat   bool
	ShowCaller      bool
	TimeLocation    string
	ShowGoroutineID bool
}

func init() {
	initializeGlobalFactory()
}

func initializeGlobalFactory() {
	globalFactoryImpl = &globalFactory{
		loggers:              make(map[string]*ContextLogger),
		context:              make(Context),
		consoleTimeFormat:    "15:04:05.000000",
		callerSkipFrames:     4, // depends on the logger code, not meant to be changed by callers
		packageNameResolver:  &PackageNameResolver{BasePackage: "alphabill-org/ledgercore"},
		nonAlphaNumericRegex: regexp.MustCompile(`[^a-zA-Z0-9]`),
	}
}

// developerConfiguration is used until the node loads its logger configuration.
// Console format is chosen when stdout is a terminal.
func developerConfiguration() GlobalConfig {
	return GlobalConfig{
		DefaultLevel:  INFO,
		PackageLevels: map[string]LogLevel{},
		Writer:        os.Stdout,
		ConsoleFormat: term.IsTerminal(int(os.Stdout.Fd())),
		ShowCaller:    true,
		TimeLocation:  defaultTimeLocation,
	}
}

func loadGlobalConfigFromFile(fileName string) (GlobalConfig, error) {
	type LoggerConfiguration struct {
		DefaultLevel    string            `yaml:"defaultLevel"`
		PackageLevels   map[string]string `yaml:"packageLevels"`
		OutputPath      string            `yaml:"outputPath"`
		ConsoleFormat   *bool             `yaml:"consoleFormat"`
		ShowCaller      bool              `yaml:"showCaller"`
		TimeLocation    string            `yaml:"timeLocation"`
		ShowGoroutineID bool              `yaml:"showGoroutineID"`
	}

	yamlFile, err := os.ReadFile(filepath.Clean(fileName))
	if err != nil {
		return GlobalConfig{}, fmt.Errorf("failed to read logger config file: %w", err)
	}
	config := &LoggerConfiguration{}
	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return GlobalConfig{}, fmt.Errorf("failed to unmarshal logger config: %w", err)
	}

	globalConfig := GlobalConfig{
		DefaultLevel:    LevelFromString(config.DefaultLevel),
		PackageLevels:   make(map[string]LogLevel, len(config.PackageLevels)),
		Writer:          os.Stdout,
		ShowCaller:      config.ShowCaller,
		TimeLocation:    config.TimeLocation,
		ShowGoroutineID: config.ShowGoroutineID,
	}
	if config.OutputPath != "" {
		file, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
		if err != nil {
			return GlobalConfig{}, fmt.Errorf("failed to open log file: %w", err)
		}
		globalConfig.Writer = file
	}
	if config.ConsoleFormat != nil {
		globalConfig.ConsoleFormat = *config.ConsoleFormat
	} else {
		// log files get JSON, terminals get console output
		globalConfig.ConsoleFormat = config.OutputPath == "" && term.IsTerminal(int(os.Stdout.Fd()))
	}
	for k, v := range config.PackageLevels {
		globalConfig.PackageLevels[k] = LevelFromString(v)
	}
	return globalConfig, nil
}
