// Package config loads the raffle daemon configuration from a YAML file,
// optional .env files and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Raffle   RaffleConfig         `yaml:"raffle"`
	VRF      VRFConfig            `yaml:"vrf"`
	Keeper   KeeperConfig         `yaml:"keeper"`
	Database DatabaseConfig       `yaml:"database"`
	Redis    events.RedisConfig   `yaml:"redis"`
	Auth     AuthConfig           `yaml:"auth"`
	Events   EventsConfig         `yaml:"events"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"RAFFLE_HOST"`
	Port            int           `yaml:"port" env:"RAFFLE_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"RAFFLE_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"RAFFLE_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RAFFLE_SHUTDOWN_TIMEOUT"`
	RateLimit       float64       `yaml:"rate_limit" env:"RAFFLE_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"RAFFLE_RATE_BURST"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RaffleConfig holds the construction parameters of the raffle.
type RaffleConfig struct {
	// EntranceFee is a decimal amount in wei.
	EntranceFee string        `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"`
	Interval    time.Duration `yaml:"interval" env:"RAFFLE_INTERVAL"`

	KeyHash              string `yaml:"key_hash" env:"RAFFLE_KEY_HASH"`
	SubscriptionID       uint64 `yaml:"subscription_id" env:"RAFFLE_SUBSCRIPTION_ID"`
	CallbackGasLimit     uint32 `yaml:"callback_gas_limit" env:"RAFFLE_CALLBACK_GAS_LIMIT"`
	RequestConfirmations uint16 `yaml:"request_confirmations" env:"RAFFLE_REQUEST_CONFIRMATIONS"`
	NumWords             uint32 `yaml:"num_words" env:"RAFFLE_NUM_WORDS"`

	Address    string `yaml:"address" env:"RAFFLE_ADDRESS"`
	MaxPlayers int    `yaml:"max_players" env:"RAFFLE_MAX_PLAYERS"`
}

// Fee parses EntranceFee.
func (r RaffleConfig) Fee() (*uint256.Int, error) {
	return parseAmount("raffle.entrance_fee", r.EntranceFee)
}

// VRF modes.
const (
	VRFModeLocal  = "local"
	VRFModeRemote = "remote"
)

// VRFConfig selects and configures the randomness oracle.
type VRFConfig struct {
	Mode string `yaml:"mode" env:"RAFFLE_VRF_MODE"`

	CoordinatorAddress string        `yaml:"coordinator_address" env:"RAFFLE_VRF_COORDINATOR"`
	BaseFee            string        `yaml:"base_fee" env:"RAFFLE_VRF_BASE_FEE"`
	GasPriceLink       string        `yaml:"gas_price_link" env:"RAFFLE_VRF_GAS_PRICE_LINK"`
	FundAmount         string        `yaml:"fund_amount" env:"RAFFLE_VRF_FUND_AMOUNT"`
	SigningKey         string        `yaml:"signing_key" env:"RAFFLE_VRF_SIGNING_KEY"`
	AutoFulfill        bool          `yaml:"auto_fulfill" env:"RAFFLE_VRF_AUTO_FULFILL"`
	FulfillDelay       time.Duration `yaml:"fulfill_delay" env:"RAFFLE_VRF_FULFILL_DELAY"`

	RemoteURL     string        `yaml:"remote_url" env:"RAFFLE_VRF_REMOTE_URL"`
	RemoteToken   string        `yaml:"remote_token" env:"RAFFLE_VRF_REMOTE_TOKEN"`
	RemoteTimeout time.Duration `yaml:"remote_timeout" env:"RAFFLE_VRF_REMOTE_TIMEOUT"`
}

// KeeperConfig configures the automation trigger.
type KeeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"RAFFLE_KEEPER_ENABLED"`
	Schedule string `yaml:"schedule" env:"RAFFLE_KEEPER_SCHEDULE"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"RAFFLE_DB_DRIVER"`
	DSN             string        `yaml:"dsn" env:"RAFFLE_DB_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"RAFFLE_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"RAFFLE_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"RAFFLE_DB_CONN_MAX_LIFETIME"`
	Migrate         bool          `yaml:"migrate" env:"RAFFLE_DB_MIGRATE"`
}

// AuthConfig configures JWT verification for operator and oracle routes.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"RAFFLE_JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"RAFFLE_JWT_ISSUER"`
}

// EventsConfig sizes the in-memory event log.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" env:"RAFFLE_EVENTS_BUFFER_SIZE"`
}

// Default returns the development configuration: a 0.001 ether entrance
// fee, a 30 second interval and an in-process coordinator.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Raffle: RaffleConfig{
			EntranceFee:          "1000000000000000",
			Interval:             30 * time.Second,
			KeyHash:              "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c",
			CallbackGasLimit:     500000,
			RequestConfirmations: 3,
			NumWords:             1,
			Address:              "0x000000000000000000000000000000000000ed00",
		},
		VRF: VRFConfig{
			Mode:               VRFModeLocal,
			CoordinatorAddress: "0x000000000000000000000000000000000000c00d",
			BaseFee:            "250000000000000000",
			GasPriceLink:       "1000000000",
			FundAmount:         "30000000000000000000",
			AutoFulfill:        true,
			FulfillDelay:       2 * time.Second,
			RemoteTimeout:      15 * time.Second,
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Schedule: "@every 5s",
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Redis: events.RedisConfig{
			Channel: "raffle:events",
		},
		Auth: AuthConfig{
			Issuer: "raffle_layer",
		},
		Events: EventsConfig{
			BufferSize: 1000,
		},
	}
}

// Load reads path (if non-empty) over the defaults, loads envFiles into the
// environment and applies environment overrides.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late during wiring.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := c.Raffle.Fee(); err != nil {
		return err
	}
	if c.Raffle.Interval < 0 {
		return fmt.Errorf("raffle.interval must not be negative")
	}
	if err := checkHash("raffle.key_hash", c.Raffle.KeyHash); err != nil {
		return err
	}
	if err := checkAddress("raffle.address", c.Raffle.Address); err != nil {
		return err
	}
	if err := checkAddress("vrf.coordinator_address", c.VRF.CoordinatorAddress); err != nil {
		return err
	}

	switch c.VRF.Mode {
	case VRFModeLocal:
		for field, value := range map[string]string{
			"vrf.base_fee":       c.VRF.BaseFee,
			"vrf.gas_price_link": c.VRF.GasPriceLink,
			"vrf.fund_amount":    c.VRF.FundAmount,
		} {
			if _, err := parseAmount(field, value); err != nil {
				return err
			}
		}
	case VRFModeRemote:
		if c.VRF.RemoteURL == "" {
			return fmt.Errorf("vrf.remote_url is required in remote mode")
		}
		if c.Raffle.SubscriptionID == 0 {
			return fmt.Errorf("raffle.subscription_id is required in remote mode")
		}
	default:
		return fmt.Errorf("vrf.mode %q must be %q or %q", c.VRF.Mode, VRFModeLocal, VRFModeRemote)
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q must be memory or postgres", c.Database.Driver)
	}
	return nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q: %w", field, value, err)
	}
	return amount, nil
}

// ParseAmount parses a decimal wei amount.
func ParseAmount(value string) (*uint256.Int, error) {
	return parseAmount("amount", value)
}

func checkAddress(field, value string) error {
	if !common.IsHexAddress(value) {
		return fmt.Errorf("%s: invalid address %q", field, value)
	}
	return nil
}

func checkHash(field, value string) error {
	s := strings.TrimPrefix(value, "0x")
	if len(s) != 2*common.HashLength {
		return fmt.Errorf("%s: invalid hash %q", field, value)
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return fmt.Errorf("%s: invalid hash %q", field, value)
		}
	}
	return nil
}
