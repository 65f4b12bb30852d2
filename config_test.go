package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHost(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{port: 8080, eventFile: "event.yaml"}, false},
		{"any port", Config{port: 0, eventFile: "event.yaml"}, false},
		{"tls pair", Config{port: 443, eventFile: "e", tlsCert: "c", tlsKey: "k"}, false},
		{"cert only", Config{port: 443, eventFile: "e", tlsCert: "c"}, true},
		{"key only", Config{port: 443, eventFile: "e", tlsKey: "k"}, true},
		{"port too high", Config{port: 65536, eventFile: "e"}, true},
		{"negative port", Config{port: -1, eventFile: "e"}, true},
		{"no event", Config{port: 8080}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validateHost()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateJoin(t *testing.T) {
	assert.NoError(t, (&Config{name: "Ana"}).validateJoin())
	assert.Error(t, (&Config{name: "   "}).validateJoin())
	assert.Error(t, (&Config{}).validateJoin())
}

func TestSchemes(t *testing.T) {
	plain := &Config{}
	assert.Equal(t, "http", plain.scheme())
	assert.Equal(t, "ws", plain.wsScheme())

	secure := &Config{tlsCert: "c", tlsKey: "k"}
	assert.Equal(t, "https", secure.scheme())
	assert.Equal(t, "wss", secure.wsScheme())
}

func TestAdvertiseHost(t *testing.T) {
	assert.Equal(t, "tasting.local", (&Config{advertise: "tasting.local", bind: "10.0.0.2"}).advertiseHost())
	assert.Equal(t, "10.0.0.2", (&Config{bind: "10.0.0.2"}).advertiseHost())
	assert.NotEmpty(t, (&Config{bind: "0.0.0.0"}).advertiseHost())
}

func TestFlagsFromEnvironment(t *testing.T) {
	t.Setenv("BLINDTASTING_CONNECT_TIMEOUT", "5s")
	t.Setenv("BLINDTASTING_NAME", "Ana")

	cfg := &Config{}
	cmd := newCmd(cfg)

	// Swap the join action for a probe so nothing is dialed.
	join, _, err := cmd.Find([]string{"join"})
	require.NoError(t, err)
	join.RunE = func(*cobra.Command, []string) error { return nil }

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"join", "ws://127.0.0.1:8080/ws"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, 5*time.Second, cfg.connectTimeout)
	assert.Equal(t, "Ana", cfg.name)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("BLINDTASTING_PORT", "9000")

	cfg := &Config{}
	cmd := newCmd(cfg)

	host, _, err := cmd.Find([]string{"host"})
	require.NoError(t, err)
	host.RunE = func(*cobra.Command, []string) error { return nil }

	cmd.SetArgs([]string{"host", "--port", "9100", "-e", "event.yaml"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, 9100, cfg.port)
	assert.Equal(t, "event.yaml", cfg.eventFile)
	assert.Equal(t, defaultConnectTimeout, cfg.connectTimeout)
	assert.True(t, cfg.qr)
}
