package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	require.Equal(t, ":8080", cfg.EndpointAddrHTTP)
	require.Equal(t, 1*time.Second, cfg.TickInterval)
	require.Equal(t, 10*time.Second, cfg.NetworkTimeout)
	require.Equal(t, "vpnservice.local", cfg.EmailDomain)
	require.NotEmpty(t, cfg.DatabaseDSN)
}

func TestLoadConfig_JSONOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	jc := JsonConfig{
		EndpointAddrHTTP: ":9999",
		DatabaseDSN:      "postgres://u:p@h:5432/db",
		EmailDomain:      "example.org",
		BillingEndpoint:  "http://billing:9100",
		BillingToken:     "tok",
	}
	require.NoError(t, jc.TickInterval.UnmarshalJSON([]byte(`"2s"`)))
	require.NoError(t, jc.NetworkTimeout.UnmarshalJSON([]byte(`"5s"`)))
	require.NoError(t, jc.ChargePollInterval.UnmarshalJSON([]byte(`"1m"`)))

	data, err := json.Marshal(jc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	oldArgs := os.Args
	os.Args = []string{"server", "-c", path}
	t.Cleanup(func() { os.Args = oldArgs })

	cfg := LoadConfig()
	require.Equal(t, ":9999", cfg.EndpointAddrHTTP)
	require.Equal(t, "postgres://u:p@h:5432/db", cfg.DatabaseDSN)
	require.Equal(t, 2*time.Second, cfg.TickInterval)
	require.Equal(t, 5*time.Second, cfg.NetworkTimeout)
	require.Equal(t, time.Minute, cfg.ChargePollInterval)
	require.Equal(t, "example.org", cfg.EmailDomain)
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	oldArgs := os.Args
	os.Args = []string{"server", "-a", ":7070", "-i", "3"}
	t.Cleanup(func() { os.Args = oldArgs })

	cfg := LoadConfig()
	require.Equal(t, ":7070", cfg.EndpointAddrHTTP)
	require.Equal(t, 3*time.Second, cfg.TickInterval)
}
