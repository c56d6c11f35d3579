// Package config provides Viper-based configuration loading for the relay server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP/WebSocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP/WebSocket listener.
	Port int `mapstructure:"port"`
	// WriteTimeout bounds a single frame write to a client.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is how often the server pings an otherwise quiet client.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// IdleTimeout is how long a connection may stay silent (no frames, no pongs)
	// before it is dropped.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// MaxMessageBytes caps the size of a single inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// OutboxSize is the per-connection outbound queue depth.
	OutboxSize int `mapstructure:"outbox_size"`
	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RoomsConfig holds room capacity and history limits.
type RoomsConfig struct {
	// DefaultMaxPlayers is used when a create request omits maxPlayers.
	DefaultMaxPlayers int `mapstructure:"default_max_players"`
	// MinMaxPlayers is the lower clamp applied to a requested maxPlayers.
	MinMaxPlayers int `mapstructure:"min_max_players"`
	// MaxPlayersCap is the upper clamp applied to a requested maxPlayers.
	MaxPlayersCap int `mapstructure:"max_players_cap"`
	// EventHistory is the number of recent game events retained per room.
	EventHistory int `mapstructure:"event_history"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// AdminConfig holds the admin gRPC service settings.
type AdminConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
	// TokenHash is a bcrypt hash of the admin bearer token. Empty disables auth.
	TokenHash string `mapstructure:"token_hash"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// DatabaseConfig holds PostgreSQL connection settings for the match archive.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// QueueSize is the archive recorder's buffered record count.
	QueueSize int `mapstructure:"queue_size"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// ContentConfig points at game content consumed by the relay.
type ContentConfig struct {
	// LevelsFile is the dungeon level catalog YAML. Empty uses built-in defaults.
	LevelsFile string `mapstructure:"levels_file"`
	// ScriptsDir holds Lua room hooks. Empty disables scripting.
	ScriptsDir string `mapstructure:"scripts_dir"`
	// ScriptInstructionLimit caps Lua opcodes per hook call; 0 uses the default.
	ScriptInstructionLimit int `mapstructure:"script_instruction_limit"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Rooms    RoomsConfig    `mapstructure:"rooms"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Content  ContentConfig  `mapstructure:"content"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRooms(c.Rooms); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Admin.Enabled {
		if err := validateAdmin(c.Admin); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Database.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 0-65535, got %d", s.Port))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if s.PingInterval <= 0 {
		errs = append(errs, "server.ping_interval must be positive")
	}
	if s.IdleTimeout <= s.PingInterval {
		errs = append(errs, fmt.Sprintf("server.idle_timeout (%s) must exceed server.ping_interval (%s)", s.IdleTimeout, s.PingInterval))
	}
	if s.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("server.max_message_bytes must be >= 1, got %d", s.MaxMessageBytes))
	}
	if s.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("server.outbox_size must be >= 1, got %d", s.OutboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.MinMaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("rooms.min_max_players must be >= 1, got %d", r.MinMaxPlayers))
	}
	if r.MaxPlayersCap < r.MinMaxPlayers {
		errs = append(errs, "rooms.max_players_cap must not be below rooms.min_max_players")
	}
	if r.DefaultMaxPlayers < r.MinMaxPlayers || r.DefaultMaxPlayers > r.MaxPlayersCap {
		errs = append(errs, fmt.Sprintf("rooms.default_max_players must be within [%d, %d], got %d", r.MinMaxPlayers, r.MaxPlayersCap, r.DefaultMaxPlayers))
	}
	if r.EventHistory < 0 {
		errs = append(errs, "rooms.event_history must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.GRPCHost == "" {
		errs = append(errs, "admin.grpc_host must not be empty")
	}
	if a.GRPCPort < 1 || a.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("admin.grpc_port must be 1-65535, got %d", a.GRPCPort))
	}
	if a.TokenHash != "" && !strings.HasPrefix(a.TokenHash, "$2") {
		errs = append(errs, "admin.token_hash must be a bcrypt hash")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if d.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("database.queue_size must be >= 1, got %d", d.QueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with RELAY_ prefix
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by the built-in defaults alone.
//
// Postcondition: Returns a Config that passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static; a decode failure here is a programming error.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.ping_interval", "20s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.max_message_bytes", 64*1024)
	v.SetDefault("server.outbox_size", 256)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("rooms.default_max_players", 4)
	v.SetDefault("rooms.min_max_players", 2)
	v.SetDefault("rooms.max_players_cap", 16)
	v.SetDefault("rooms.event_history", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 50061)
	v.SetDefault("admin.token_hash", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "relay")
	v.SetDefault("database.password", "relay")
	v.SetDefault("database.name", "relay")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.queue_size", 1024)

	v.SetDefault("content.levels_file", "")
	v.SetDefault("content.scripts_dir", "")
	v.SetDefault("content.script_instruction_limit", 0)
}
