package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	fee, err := cfg.Raffle.Fee()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", fee.Dec())
	assert.Equal(t, 30*time.Second, cfg.Raffle.Interval)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadLayersFileEnvFileAndEnvironment(t *testing.T) {
	path := writeFile(t, "raffle.yaml", `
server:
  port: 9000
raffle:
  entrance_fee: "100"
  interval: 1m
  max_players: 10
keeper:
  schedule: "@every 10s"
`)
	envFile := writeFile(t, ".env", "RAFFLE_NUM_WORDS=2\n")
	t.Cleanup(func() { os.Unsetenv("RAFFLE_NUM_WORDS") })
	t.Setenv("RAFFLE_PORT", "9100")

	cfg, err := Load(path, envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "100", cfg.Raffle.EntranceFee)
	assert.Equal(t, time.Minute, cfg.Raffle.Interval)
	assert.Equal(t, 10, cfg.Raffle.MaxPlayers)
	assert.Equal(t, uint32(2), cfg.Raffle.NumWords)
	assert.Equal(t, "@every 10s", cfg.Keeper.Schedule)
	// untouched defaults survive
	assert.Equal(t, uint32(500000), cfg.Raffle.CallbackGasLimit)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad fee":              func(c *Config) { c.Raffle.EntranceFee = "ten" },
		"bad port":             func(c *Config) { c.Server.Port = 0 },
		"bad address":          func(c *Config) { c.Raffle.Address = "nowhere" },
		"bad key hash":         func(c *Config) { c.Raffle.KeyHash = "0x1234" },
		"bad coordinator":      func(c *Config) { c.VRF.CoordinatorAddress = "" },
		"unknown vrf mode":     func(c *Config) { c.VRF.Mode = "magic" },
		"remote without url":   func(c *Config) { c.VRF.Mode = VRFModeRemote },
		"postgres without dsn": func(c *Config) { c.Database.Driver = "postgres" },
		"unknown driver":       func(c *Config) { c.Database.Driver = "sqlite" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "raffle.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, VRFModeLocal, cfg.VRF.Mode)
}
