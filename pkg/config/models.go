package config

import "time"

type Config struct {
	Server        ServerConfig
	Transport     TransportConfig
	Directory     DirectoryConfig
	Heartbeat     HeartbeatConfig
	Collaborators CollaboratorsConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	// ServiceSecret signs the JWTs backend collaborators present on the
	// internal notify API.
	ServiceSecret string `mapstructure:"serviceSecret"`
}

type ConnectionLimitConfig struct {
	// MaxConnections caps live WebSocket connections per process. Zero
	// disables the cap.
	MaxConnections int `mapstructure:"maxConnections"`
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
}

type DirectoryConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string        `mapstructure:"keyPrefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type HeartbeatConfig struct {
	Interval time.Duration
}

type CollaboratorsConfig struct {
	// CommentsEndpoint is the base URL of the comment persistence service.
	CommentsEndpoint string `mapstructure:"commentsEndpoint"`
	// PushEndpoint is the base URL of the push-notification service. Empty
	// disables the secondary push path.
	PushEndpoint string        `mapstructure:"pushEndpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
}
