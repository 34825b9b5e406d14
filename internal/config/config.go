// Package config provides configuration management for the switchstore CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jacentio/switchstore/snapshot/dynamo"
	"github.com/jacentio/switchstore/store"
)

// Config holds everything the CLI needs to build stores and snapshot
// backends.
type Config struct {
	Store  store.Config
	Dynamo dynamo.Config

	// AWSRegion and AWSEndpoint override the SDK defaults when set.
	// AWSEndpoint points the client at DynamoDB Local or LocalStack.
	AWSRegion   string
	AWSEndpoint string

	// Timeout bounds a single CLI command.
	Timeout time.Duration
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Store:   store.DefaultConfig(),
		Dynamo:  dynamo.DefaultConfig(),
		Timeout: 2 * time.Minute,
	}
}

// Load loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("store.first_handle_id", d.Store.FirstHandleID)
	v.SetDefault("store.max_objects_per_type", d.Store.MaxObjectsPerType)
	v.SetDefault("dynamo.table", d.Dynamo.Table)
	v.SetDefault("dynamo.name", d.Dynamo.Name)
	v.SetDefault("dynamo.num_shards", d.Dynamo.NumShards)
	v.SetDefault("dynamo.retention", "0s")
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("timeout", d.Timeout.String())

	// Bind environment variables with SWS_ prefix
	v.SetEnvPrefix("SWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Store: store.Config{
			FirstHandleID:     v.GetUint64("store.first_handle_id"),
			MaxObjectsPerType: v.GetInt("store.max_objects_per_type"),
		},
		Dynamo: dynamo.Config{
			Table:     v.GetString("dynamo.table"),
			Name:      v.GetString("dynamo.name"),
			NumShards: v.GetInt("dynamo.num_shards"),
			Retention: v.GetDuration("dynamo.retention"),
		},
		AWSRegion:   v.GetString("aws.region"),
		AWSEndpoint: v.GetString("aws.endpoint"),
		Timeout:     v.GetDuration("timeout"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects values the component configs would otherwise clamp
// silently.
func validate(cfg *Config) error {
	if cfg.Store.MaxObjectsPerType <= 0 {
		return fmt.Errorf("store.max_objects_per_type must be positive, got %d", cfg.Store.MaxObjectsPerType)
	}
	if cfg.Dynamo.NumShards < 1 || cfg.Dynamo.NumShards > 256 {
		return fmt.Errorf("dynamo.num_shards must be between 1 and 256, got %d", cfg.Dynamo.NumShards)
	}
	if cfg.Dynamo.Retention < 0 {
		return fmt.Errorf("dynamo.retention must not be negative, got %v", cfg.Dynamo.Retention)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", cfg.Timeout)
	}
	return nil
}
