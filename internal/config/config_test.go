package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `
[Server]
Address = "0.0.0.0:9000"
RoomTTL = 300
AllowedOrigins = ["https://chat.example"]

[Redis]
Address = "redis:6379"
DB = 2

[Logging]
Level = "debug"

[Metrics]
Address = "127.0.0.1:9100"
`

func TestLoadAppliesDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte(sample))
	require.NoError(err)

	require.Equal("0.0.0.0:9000", cfg.Server.Address)
	require.Equal(300*time.Second, cfg.Server.DefaultTTL())
	require.Equal(24*time.Hour, cfg.Server.MaxTTL())
	require.Equal(time.Second, cfg.Server.Sweep())
	require.Equal(int64(28<<20), cfg.Server.MaxEnvelopeBytes)
	require.Equal([]string{"https://chat.example"}, cfg.Server.AllowedOrigins)

	require.Equal("redis:6379", cfg.Redis.Address)
	require.Equal(2, cfg.Redis.DB)
	require.Equal("phantom", cfg.Redis.KeyPrefix)

	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal("127.0.0.1:9100", cfg.Metrics.Address)
}

func TestEmptyConfigIsValid(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte{})
	require.NoError(err)
	require.Equal(defaultAddress, cfg.Server.Address)
	require.Equal(defaultRedisAddress, cfg.Redis.Address)
	require.Equal(defaultLogLevel, cfg.Logging.Level)
	require.Empty(cfg.Metrics.Address)

	require.Equal(cfg, Default())
}

func TestInvalidConfigs(t *testing.T) {
	for name, body := range map[string]string{
		"log level":  "[Logging]\nLevel = \"LOUD\"\n",
		"address":    "[Server]\nAddress = \"nope\"\n",
		"ttl bounds": "[Server]\nRoomTTL = 100\nMaxRoomTTL = 10\n",
		"prefix":     "[Redis]\nKeyPrefix = \"a{b}\"\n",
		"syntax":     "[Server\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body))
			require.Error(t, err)
		})
	}

	_, err := Load(nil)
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "phantom.toml")
	require.NoError(os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(err)
	require.Equal("redis:6379", cfg.Redis.Address)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(err)
}
