package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds settings for the TCP server runtime.
type ServerConfig struct {
	ListenAddr    string
	MetricsAddr   string
	Database      DatabaseConfig
	JWT           JWTConfig
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerAddr    string
	CommandPrefix rune
}

// DatabaseConfig captures account storage configuration.
type DatabaseConfig struct {
	Path string
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// LoadServerConfig builds the server configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func LoadServerConfig() ServerConfig {
	loadDotEnv()
	return ServerConfig{
		ListenAddr:    envOrDefault("SLASHBOARD_LISTEN_ADDR", ":9000"),
		MetricsAddr:   envOrDefault("SLASHBOARD_METRICS_ADDR", ":9100"),
		Database:      DatabaseConfig{Path: envOrDefault("SLASHBOARD_DB_PATH", "slashboard.db")},
		JWT:           loadJWTConfig(),
		ReadTimeout:   envDuration("SLASHBOARD_READ_TIMEOUT", 15*time.Minute),
		WriteTimeout:  envDuration("SLASHBOARD_WRITE_TIMEOUT", 15*time.Second),
		MaxFrameBytes: envInt("SLASHBOARD_MAX_FRAME_BYTES", 1<<20),
	}
}

// LoadClientConfig builds the client configuration from environment variables.
func LoadClientConfig() ClientConfig {
	loadDotEnv()
	prefix := envOrDefault("SLASHBOARD_COMMAND_PREFIX", "/")
	runes := []rune(prefix)
	commandPrefix := '/'
	if len(runes) > 0 {
		commandPrefix = runes[0]
	}
	return ClientConfig{
		ServerAddr:    envOrDefault("SLASHBOARD_SERVER_ADDR", "localhost:9000"),
		CommandPrefix: commandPrefix,
	}
}

func loadJWTConfig() JWTConfig {
	expiration := envDuration("SLASHBOARD_JWT_EXPIRATION", 24*time.Hour)
	return JWTConfig{
		Secret:     envOrDefault("SLASHBOARD_JWT_SECRET", "replace-me"),
		Issuer:     envOrDefault("SLASHBOARD_JWT_ISSUER", "slashboard"),
		Expiration: expiration,
	}
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv() {
	path := envOrDefault("SLASHBOARD_ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return env
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(env); err == nil {
			return parsed
		}
	}
	return def
}
