// Package config provides a reusable loader for one-core configuration
// files and environment variables: a default.yaml plus an optional named
// overlay, merged with ONE_-prefixed environment variables and an optional
// local .env file, into one Config struct covering every subsystem an
// instance process wires up (instance bootstrap, storage, reverse maps,
// chum, logging).
//
// Version: v0.1.0
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/refinio/one-core/errutil"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// ReverseMapFieldConfig names one (type, field) pair a config file enables
// a reverse map for.
type ReverseMapFieldConfig struct {
	Type  string `mapstructure:"type" json:"type"`
	Field string `mapstructure:"field" json:"field"`
}

// Config is the unified configuration for a one-core instance process: one
// struct per subsystem, mapstructure tags throughout so Viper can unmarshal
// directly into it.
type Config struct {
	Instance struct {
		Name                 string `mapstructure:"name" json:"name"`
		Email                string `mapstructure:"email" json:"email"`
		OwnerName            string `mapstructure:"owner_name" json:"owner_name"`
		Directory            string `mapstructure:"directory" json:"directory"`
		StorageInitTimeoutMS int    `mapstructure:"storage_init_timeout_ms" json:"storage_init_timeout_ms"`
	} `mapstructure:"instance" json:"instance"`

	Storage struct {
		// Encrypted toggles per-record sealing. The scrypt cost
		// parameters themselves are fixed constants inside package
		// store, not exposed here (see DESIGN.md's scrypt open-question note).
		Encrypted bool `mapstructure:"encrypted" json:"encrypted"`
	} `mapstructure:"storage" json:"storage"`

	ReverseMaps struct {
		Enabled             []ReverseMapFieldConfig `mapstructure:"enabled" json:"enabled"`
		EnabledForIdObjects []ReverseMapFieldConfig `mapstructure:"enabled_for_id_objects" json:"enabled_for_id_objects"`
	} `mapstructure:"reverse_maps" json:"reverse_maps"`

	Chum struct {
		MaxInFlight      int `mapstructure:"max_in_flight" json:"max_in_flight"`
		RequestTimeoutMS int `mapstructure:"request_timeout_ms" json:"request_timeout_ms"`
	} `mapstructure:"chum" json:"chum"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// envOrDefault returns the value of the environment variable key, or
// fallback if it is unset or empty.
func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Load reads <path>/default.yaml, merges an optional <path>/<env>.yaml
// overlay, loads a local .env file, and picks up ONE_-prefixed environment
// variables.
func Load(path, env string) (*Config, error) {
	_ = godotenv.Load() // optional local .env; absence is not an error

	viper.SetConfigName("default")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.AddConfigPath(path)
	} else {
		viper.AddConfigPath("config")
	}
	if err := viper.ReadInConfig(); err != nil {
		return nil, errutil.Wrap(errutil.CodeConfigLoadFailed, err, map[string]any{"stage": "read", "path": path})
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, errutil.Wrap(errutil.CodeConfigLoadFailed, err, map[string]any{"stage": "merge", "overlay": env})
		}
	}

	viper.SetEnvPrefix("ONE")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, errutil.Wrap(errutil.CodeConfigLoadFailed, err, map[string]any{"stage": "unmarshal"})
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ONE_ENV environment variable to
// pick the overlay, and ONE_CONFIG_PATH to pick the config directory.
func LoadFromEnv() (*Config, error) {
	return Load(envOrDefault("ONE_CONFIG_PATH", ""), envOrDefault("ONE_ENV", ""))
}
