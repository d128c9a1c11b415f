package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/whisper/relay/internal/config"
	"github.com/whisper/relay/internal/store"
)

func seedUser(t *testing.T, cfg config.Config, username string) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL})
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.CreateUser(context.Background(), username, "pw"))
}

func TestBanListUnban(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "relay.db")
	log := zaptest.NewLogger(t)
	seedUser(t, cfg, "alice")

	var out bytes.Buffer
	require.NoError(t, run(cfg, log, "list", nil, &out))
	assert.Equal(t, "no active bans\n", out.String())

	out.Reset()
	require.NoError(t, run(cfg, log, "ban", []string{"-user", "alice", "-days", "2", "-reason", "spam"}, &out))
	assert.Contains(t, out.String(), "banned alice until")

	out.Reset()
	require.NoError(t, run(cfg, log, "list", nil, &out))
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "operator")
	assert.Contains(t, out.String(), "spam")

	out.Reset()
	require.NoError(t, run(cfg, log, "unban", []string{"-user", "alice"}, &out))
	assert.Equal(t, "unbanned alice\n", out.String())

	out.Reset()
	require.NoError(t, run(cfg, log, "unban", []string{"-user", "alice"}, &out))
	assert.Equal(t, "alice is not banned\n", out.String())
}

func TestBanRequiresUser(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "relay.db")

	var out bytes.Buffer
	assert.Error(t, run(cfg, zaptest.NewLogger(t), "ban", []string{"-days", "1"}, &out))
	assert.Error(t, run(cfg, zaptest.NewLogger(t), "promote", nil, &out))
}

func TestCheck(t *testing.T) {
	cfg := config.Default()
	var out bytes.Buffer

	require.NoError(t, run(cfg, zaptest.NewLogger(t), "check", []string{"hello", "there"}, &out))
	assert.Equal(t, "clean\n", out.String())

	out.Reset()
	cfg.BlockedTerms = []string{"scam"}
	require.NoError(t, run(cfg, zaptest.NewLogger(t), "check", []string{"total", "scam"}, &out))
	assert.Equal(t, "blocked: blocked_keyword \"scam\"\n", out.String())
}
