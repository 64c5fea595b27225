package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tiercached.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
server:
  addr: ":9090"
cache:
  default_ttl: 5m
  compress_threshold: 1024
store:
  mode: sentinel
  master_name: cache-primary
  addrs: ["s1:26379", "s2:26379"]
replication:
  targets: ["replica-1:6379"]
  workers: 4
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 1024, cfg.Cache.CompressThreshold)
	assert.Equal(t, "sentinel", cfg.Store.Mode)
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, cfg.Store.Addrs)
	assert.Equal(t, 4, cfg.Replication.Workers)

	// Untouched fields keep their defaults.
	assert.Equal(t, "zap", cfg.Logging.Backend)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad logging backend": "logging:\n  backend: syslog\n",
		"bad store mode":      "store:\n  mode: multimaster\n",
		"sentinel no master":  "store:\n  mode: sentinel\n",
		"bad level":           "logging:\n  level: loud\n",
		"empty addrs":         "store:\n  addrs: []\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
