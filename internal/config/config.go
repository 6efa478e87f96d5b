// Package config provides the relay configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"phantom_chat/internal/model"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress          = "127.0.0.1:8080"
	defaultRoomTTL          = 600
	defaultMaxRoomTTL       = 86400
	defaultMaxEnvelopeBytes = model.DefaultMaxBodyBytes
	defaultSweepInterval    = 1000
	defaultRedisAddress     = "localhost:6379"
	defaultKeyPrefix        = "phantom"
	defaultLogLevel         = "INFO"
)

// Server is the relay's HTTP and room lifecycle configuration.
type Server struct {
	// Address is the address the HTTP API listens on.
	Address string

	// RoomTTL is the lifetime in seconds of a room created without an
	// explicit one.
	RoomTTL int

	// MaxRoomTTL caps requested room lifetimes, in seconds.
	MaxRoomTTL int

	// MaxEnvelopeBytes limits the size of any request body.
	MaxEnvelopeBytes int64

	// SweepInterval is how often, in milliseconds, expired rooms are looked
	// for in the store.
	SweepInterval int

	// AllowedOrigins are the origins accepted on websocket upgrades. Empty
	// accepts requests without an Origin header and same host origins only.
	AllowedOrigins []string
}

func (sCfg *Server) applyDefaults() {
	if sCfg.Address == "" {
		sCfg.Address = defaultAddress
	}
	if sCfg.RoomTTL <= 0 {
		sCfg.RoomTTL = defaultRoomTTL
	}
	if sCfg.MaxRoomTTL <= 0 {
		sCfg.MaxRoomTTL = defaultMaxRoomTTL
	}
	if sCfg.MaxEnvelopeBytes <= 0 {
		sCfg.MaxEnvelopeBytes = defaultMaxEnvelopeBytes
	}
	if sCfg.SweepInterval <= 0 {
		sCfg.SweepInterval = defaultSweepInterval
	}
}

func (sCfg *Server) validate() error {
	if _, _, err := net.SplitHostPort(sCfg.Address); err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	if sCfg.RoomTTL > sCfg.MaxRoomTTL {
		return fmt.Errorf("config: Server: RoomTTL %d exceeds MaxRoomTTL %d", sCfg.RoomTTL, sCfg.MaxRoomTTL)
	}
	return nil
}

func (sCfg *Server) DefaultTTL() time.Duration {
	return time.Duration(sCfg.RoomTTL) * time.Second
}

func (sCfg *Server) MaxTTL() time.Duration {
	return time.Duration(sCfg.MaxRoomTTL) * time.Second
}

func (sCfg *Server) Sweep() time.Duration {
	return time.Duration(sCfg.SweepInterval) * time.Millisecond
}

// Redis is the ephemeral store configuration.
type Redis struct {
	Address  string
	Password string
	DB       int

	// KeyPrefix namespaces every key and channel the relay uses.
	KeyPrefix string
}

func (rCfg *Redis) applyDefaults() {
	if rCfg.Address == "" {
		rCfg.Address = defaultRedisAddress
	}
	if rCfg.KeyPrefix == "" {
		rCfg.KeyPrefix = defaultKeyPrefix
	}
}

func (rCfg *Redis) validate() error {
	if rCfg.DB < 0 {
		return fmt.Errorf("config: Redis: DB %d is invalid", rCfg.DB)
	}
	if strings.ContainsAny(rCfg.KeyPrefix, "{} ") {
		return fmt.Errorf("config: Redis: KeyPrefix '%v' is invalid", rCfg.KeyPrefix)
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// File specifies the log file, if omitted stderr will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Metrics is the prometheus endpoint configuration.
type Metrics struct {
	// Address is where /metrics is served. Empty disables it.
	Address string
}

// Config is the top level relay configuration.
type Config struct {
	Server  *Server
	Redis   *Redis
	Logging *Logging
	Metrics *Metrics
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration. Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == nil {
		cfg.Server = &Server{}
	}
	if cfg.Redis == nil {
		cfg.Redis = &Redis{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &Logging{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}

	cfg.Server.applyDefaults()
	cfg.Redis.applyDefaults()

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Redis.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}

	cfg := new(Config)
	if _, err := toml.Decode(string(b), cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
