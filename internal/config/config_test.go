package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/scenecast/internal/auth"
	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/protocol/session"
	"github.com/danmuck/scenecast/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServerConfigOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
name = " wall-a "
listen = ""
tick_interval = "50ms"
cors_origins = [" http://wall.local ", ""]

[auth]
mode = "JWT"
jwt_secret = "s3cret"
jwt_issuer = "scenecast"

[session]
heartbeat_interval = "2s"
send_queue = 8
max_payload_bytes = 1024

[session.backoff]
max_delay = "1s"
`)
	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "wall-a", cfg.Name)
	assert.Empty(t, cfg.Listen)
	assert.Equal(t, ":7480", cfg.AdminAddr, "undefined keys keep defaults")
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, []string{"http://wall.local"}, cfg.CorsOrigins)
	assert.Equal(t, AuthModeJWT, cfg.Auth.Mode)
	assert.Equal(t, 2*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 8, cfg.Session.SendQueue)
	assert.Equal(t, uint64(1024), cfg.Session.Limits.MaxPayloadBytes)
	assert.Equal(t, time.Second, cfg.Session.Backoff.MaxDelay)
	assert.Equal(t, session.DefaultConfig().Backoff.InitialDelay, cfg.Session.Backoff.InitialDelay)

	v, err := cfg.Auth.Validator()
	require.NoError(t, err)
	jwt, ok := v.(auth.JWT)
	require.True(t, ok)
	token, err := jwt.Issue("c1", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, v.Validate(token))
}

func TestLoadServerConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadServerConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg)
	assert.Equal(t, engine.DefaultTickInterval, cfg.TickInterval)

	v, err := cfg.Auth.Validator()
	require.NoError(t, err)
	assert.IsType(t, auth.AllowAll{}, v)
}

func TestLoadServerConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
	}{
		{"bad duration", `tick_interval = "soon"`},
		{"no endpoints", "listen = \"\"\nadmin_addr = \"\""},
		{"token without token", "[auth]\nmode = \"token\""},
		{"jwt without secret", "[auth]\nmode = \"jwt\""},
		{"unknown auth", "[auth]\nmode = \"ldap\""},
		{"production without tls", "[session]\nsecurity_mode = \"production\""},
		{"tls without cert", "[session.tls]\nenabled = true"},
		{"bad session duration", "[session]\nread_timeout = \"x\""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadServerConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadMirrorConfig(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadMirrorConfig(writeConfig(t, `
name = "lobby"
transport = "WS"
address = "ws://wall.local:7480/ws"
token = "t"
max_attempts = 3

[session.tls]
ca_file = "/etc/scenecast/ca.pem"
server_name = "wall.local"
`))
	require.NoError(t, err)
	assert.Equal(t, "lobby", cfg.Name)
	assert.Equal(t, session.TransportWebSocket, cfg.Transport)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "/etc/scenecast/ca.pem", cfg.Session.TLS.CAFile)
	assert.Equal(t, "wall.local", cfg.Session.TLS.ServerName)
	assert.False(t, cfg.Session.TLS.Enabled)

	cases := []string{
		`transport = "udp"`,
		`address = ""`,
		"transport = \"ws\"\naddress = \"wall.local:7480\"",
		`max_attempts = -1`,
		"[session.tls]\nmutual = true",
	}
	for _, body := range cases {
		_, err := LoadMirrorConfig(writeConfig(t, body))
		assert.ErrorIs(t, err, ErrInvalidConfig, body)
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	serverPath := filepath.Join(dir, "server.toml")
	require.NoError(t, WriteTemplate(serverPath, "server", false))
	server, err := LoadServerConfig(serverPath)
	require.NoError(t, err)
	assert.Equal(t, AuthModeToken, server.Auth.Mode)

	mirrorPath := filepath.Join(dir, "mirror.toml")
	require.NoError(t, WriteTemplate(mirrorPath, "Mirror", false))
	mirror, err := LoadMirrorConfig(mirrorPath)
	require.NoError(t, err)
	assert.Equal(t, "change-me", mirror.Token)

	assert.Error(t, WriteTemplate(serverPath, "server", false), "existing files are kept")
	assert.NoError(t, WriteTemplate(serverPath, "server", true))
	_, err = Template("relay")
	assert.Error(t, err)
}
