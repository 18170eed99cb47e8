package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":3000")
	v.SetDefault("server.auth.serviceSecret", "default-secret-key-change-me")
	v.SetDefault("server.connectionLimit.maxConnections", 0)
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.writeTimeout", "5s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("directory.addr", "localhost:6379")
	v.SetDefault("directory.db", 0)
	v.SetDefault("directory.keyPrefix", "")
	v.SetDefault("directory.ttl", "1h")
	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("collaborators.timeout", "5s")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("WHISPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
