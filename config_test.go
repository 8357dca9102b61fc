package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "tls cert without key", mutate: func(c *Config) { c.tlsCert = "cert.pem" }, wantErr: true},
		{name: "tls pair", mutate: func(c *Config) { c.tlsCert, c.tlsKey = "cert.pem", "key.pem" }},
		{name: "port zero", mutate: func(c *Config) { c.port = 0 }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.port = 70000 }, wantErr: true},
		{name: "no cats", mutate: func(c *Config) { c.count = 0 }, wantErr: true},
		{name: "too many cats", mutate: func(c *Config) { c.count = 101 }, wantErr: true},
		{name: "preview not positive", mutate: func(c *Config) { c.previewThreshold = 0 }, wantErr: true},
		{name: "decision below preview", mutate: func(c *Config) { c.decisionThreshold = 40 }, wantErr: true},
		{name: "decision equals preview", mutate: func(c *Config) { c.decisionThreshold = 50 }, wantErr: true},
		{name: "bad dimensions", mutate: func(c *Config) { c.imageWidth = 0 }, wantErr: true},
		{name: "negative delay", mutate: func(c *Config) { c.requestDelay = -time.Second }, wantErr: true},
		{name: "no fetch timeout", mutate: func(c *Config) { c.fetchTimeout = 0 }, wantErr: true},
		{name: "api url scheme", mutate: func(c *Config) { c.apiURL = "ftp://cataas.com" }, wantErr: true},
		{name: "api url unparsable", mutate: func(c *Config) { c.apiURL = "http://[::1" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig("https://cataas.com")
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigScheme(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://cataas.com")
	require.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	require.Equal(t, "https", cfg.scheme())
}

func TestNewCmdDefaults(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)

	require.Equal(t, "swipebox", cmd.Use)
	require.Equal(t, "https://cataas.com", cfg.apiURL)
	require.Equal(t, 10, cfg.count)
	require.Equal(t, 50.0, cfg.previewThreshold)
	require.Equal(t, 100.0, cfg.decisionThreshold)
	require.Equal(t, 100*time.Millisecond, cfg.requestDelay)
	require.False(t, cfg.refetchOnReset)
	require.NoError(t, cfg.validate())
}

func TestNewCmdEnvironment(t *testing.T) {
	t.Setenv("SWIPEBOX_COUNT", "5")
	t.Setenv("SWIPEBOX_DECISION_THRESHOLD", "140")
	t.Setenv("SWIPEBOX_REFETCH_ON_RESET", "true")

	cfg := &Config{}
	_ = newCmd(cfg)

	require.Equal(t, 5, cfg.count)
	require.Equal(t, 140.0, cfg.decisionThreshold)
	require.True(t, cfg.refetchOnReset)
}

func TestNewCmdFlags(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)

	require.NoError(t, cmd.Flags().Parse([]string{"--count", "4", "--preview_threshold", "30", "-p", "9000"}))

	require.Equal(t, 4, cfg.count)
	require.Equal(t, 30.0, cfg.previewThreshold)
	require.Equal(t, 9000, cfg.port)
}
