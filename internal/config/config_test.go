package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Pubsub struct {
			Addrs  []string
			Prefix string
		}
	}

	Game struct {
		AllowReuse bool `mapstructure:"allow_reuse"`
		Countdown  struct {
			Default time.Duration
		}
	}
}

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http:
  port: 9090
redis:
  pubsub:
    addrs: ["file:6379"]
game:
  countdown:
    default: 45s
`), 0o600))

	t.Setenv("REDIS_PUBSUB_PREFIX", "env")

	var c testConfig
	c.HTTP.Port = 8080
	c.Redis.Pubsub.Prefix = "default"
	c.Game.AllowReuse = true
	c.Game.Countdown.Default = time.Minute

	require.NoError(t, config.Load(file, &c))

	assert.Equal(t, int32(9090), c.HTTP.Port, "file should override defaults")
	assert.Equal(t, []string{"file:6379"}, c.Redis.Pubsub.Addrs)
	assert.Equal(t, "env", c.Redis.Pubsub.Prefix, "env should override defaults")
	assert.True(t, c.Game.AllowReuse, "defaults should be kept")
	assert.Equal(t, 45*time.Second, c.Game.Countdown.Default)
}

func TestLoad_WithoutFile(t *testing.T) {
	t.Setenv("HTTP_PORT", "7070")

	var c testConfig
	c.HTTP.Port = 8080

	require.NoError(t, config.Load("", &c))
	assert.Equal(t, int32(7070), c.HTTP.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), &c)
	assert.Error(t, err)
}
