package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"QUOTE_API_URL", "QUOTE_WS_URL", "PORT", "SESSION_STORE", "HIGHLIGHT_MS", "HTTP_TIMEOUT", "DEV_USERS", "ARK_MODEL", "ARK_API_KEY"} {
		t.Setenv(key, "")
	}

	client, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8002", client.Client.APIURL)
	assert.Equal(t, "ws://localhost:8002/ws", client.Client.WSURL)
	assert.Equal(t, 1200*time.Millisecond, client.Client.HighlightDuration)
	assert.Equal(t, 15*time.Second, client.Client.HTTPTimeout)

	server, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8002", server.Server.Addr)
	assert.Equal(t, "memory", server.Server.SessionStore)
	assert.Equal(t, map[string]string{"demo": "demo"}, server.Server.Users)
	assert.False(t, server.AI.Enabled())
}

func TestLoadClientRejectsBadWebsocketScheme(t *testing.T) {
	t.Setenv("QUOTE_WS_URL", "http://localhost/ws")
	_, err := LoadClient()
	assert.Error(t, err)
}

func TestLoadServerRedisRequiresURL(t *testing.T) {
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("REDIS_URL", "")
	_, err := LoadServer()
	assert.Error(t, err)
}

func TestLoadClientIgnoresServerSettings(t *testing.T) {
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("REDIS_URL", "")
	t.Setenv("PORT", "not a port")
	t.Setenv("QUOTE_WS_URL", "")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8002/ws", cfg.Client.WSURL)
}

func TestAIConfig(t *testing.T) {
	t.Setenv("ARK_MODEL", "doubao-pro")
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("ARK_ACCESS_KEY", "ak")
	t.Setenv("ARK_SECRET_KEY", "")
	t.Setenv("ARK_TEMPERATURE", "0.2")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.False(t, cfg.AI.Enabled(), "access key without secret key")
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.2, *cfg.AI.Temperature, 1e-9)

	_, err = cfg.AI.NewChatModel(context.Background())
	assert.Error(t, err)

	t.Setenv("ARK_API_KEY", "key")
	cfg, err = LoadServer()
	require.NoError(t, err)
	assert.True(t, cfg.AI.Enabled())

	t.Setenv("ARK_TOP_P", "high")
	_, err = LoadServer()
	assert.Error(t, err)
}

func TestParseAddr(t *testing.T) {
	addr, err := parseAddr("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", addr)

	addr, err = parseAddr("9000")
	require.NoError(t, err)
	assert.Equal(t, ":9000", addr)

	_, err = parseAddr("90 00")
	assert.Error(t, err)
}

func TestHighlightOverride(t *testing.T) {
	t.Setenv("HIGHLIGHT_MS", "500")
	t.Setenv("QUOTE_USERNAME", "")
	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.HighlightDuration)
	assert.False(t, cfg.Client.HasCredentials())
}

func TestParseUsers(t *testing.T) {
	users, err := parseUsers("alice:s3cret, bob:pw:with:colons ,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "s3cret", "bob": "pw:with:colons"}, users)

	_, err = parseUsers("nopassword")
	assert.Error(t, err)
	_, err = parseUsers(":pw")
	assert.Error(t, err)
}
