package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/R3E-Network/provenance_layer/internal/config"
)

const (
	defaultEnvFile = ".env"
	appName        = "provenanced"
)

// options are the command line flags. Anything set here overrides the
// config file and the environment.
type options struct {
	ConfigFile  string `short:"C" long:"configfile" description:"Path to YAML configuration file"`
	EnvFile     string `long:"envfile" description:"Path to .env file" default:".env"`
	Host        string `long:"host" description:"Listen host"`
	Port        int    `short:"p" long:"port" description:"Listen port"`
	Driver      string `long:"storage" description:"Storage driver (memory, postgres, leveldb)"`
	LogLevel    string `short:"l" long:"loglevel" description:"Log level (trace, debug, info, warn, error)"`
	Migrate     bool   `long:"migrate" description:"Apply database migrations on startup"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
}

// loadConfig parses flags, then loads the layered configuration and applies
// flag overrides on top. The second return reports that the process should
// exit cleanly (help or version requested).
func loadConfig(args []string) (config.Config, bool, error) {
	opts := options{EnvFile: defaultEnvFile}
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = appName
	if _, err := parser.ParseArgs(args); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return config.Config{}, true, nil
		}
		return config.Config{}, false, err
	}
	if opts.ShowVersion {
		fmt.Fprintf(os.Stdout, "%s version %s\n", appName, version)
		return config.Config{}, true, nil
	}

	envFile := opts.EnvFile
	if envFile == defaultEnvFile {
		if _, err := os.Stat(envFile); err != nil {
			envFile = ""
		}
	}
	cfg, err := config.Load(opts.ConfigFile, envFile)
	if err != nil {
		return config.Config{}, false, err
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Driver != "" {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(opts.Driver))
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.Migrate {
		cfg.Storage.AutoMigrate = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, err
	}
	return cfg, false, nil
}
