package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. BOTFLEET_LOG_LEVEL.
const EnvPrefix = "BOTFLEET"

// plainEnv binds the conventional unprefixed variable names used by deployments.
var plainEnv = map[string]string{
	"database.url":   "DATABASE_URL",
	"admin.password": "ADMIN_PASSWORD",
	"http.port":      "PORT",
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"port":      "http.port",
	"log-level": "log.level",
	"db":        "database.url",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file (yaml)")
	fs.Int("port", DefaultHTTPPort, "HTTP listen port")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.String("db", DefaultDatabaseURL, "SQLite data source")
}

// Load loads and validates configuration from, in increasing precedence:
//  1. default values
//  2. the yaml file at path (optional; a missing file is not an error)
//  3. BOTFLEET_* and plain (DATABASE_URL, ADMIN_PASSWORD, PORT) environment variables
//  4. flags explicitly set on flags (may be nil)
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range plainEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("%w: failed to bind env %s: %v", ErrConfiguration, env, err)
		}
	}

	if flags != nil {
		for flag, key := range flagKeys {
			f := flags.Lookup(flag)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("%w: failed to bind flag %s: %v", ErrConfiguration, flag, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}
