package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pysugar/tempmail-nexus/internal/config"
	"github.com/pysugar/tempmail-nexus/internal/mailapi/mailapitest"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root, cleanup := newRootCmd()
	defer cleanup()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append(args,
		"--config", filepath.Join(dir, "config.yaml"),
		"--data-path", filepath.Join(dir, "tempmail.db"),
	))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProvidersCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "providers")
	require.NoError(t, err)
	assert.Contains(t, out, "duckmail")
	assert.Contains(t, out, "mailtm")

	_, err = run(t, dir, "providers", "add", "--id", "local", "--name", "Local", "--base-url", "http://127.0.0.1:9")
	require.NoError(t, err)
	_, err = run(t, dir, "providers", "enable", "mailtm")
	require.NoError(t, err)

	out, err = run(t, dir, "providers")
	require.NoError(t, err)
	assert.Contains(t, out, "local")
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "mailtm") {
			assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "true"), line)
		}
	}

	_, err = run(t, dir, "providers", "enable", "nope")
	assert.Error(t, err)
}

func TestAccountsEmpty(t *testing.T) {
	out, err := run(t, t.TempDir(), "accounts")
	require.NoError(t, err)
	assert.Contains(t, out, "No accounts")
}

func TestInboxRequiresLogin(t *testing.T) {
	_, err := run(t, t.TempDir(), "inbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not logged in")
}

func TestAPIKeyCommands(t *testing.T) {
	t.Setenv("TEMPMAIL_API_KEY", "")
	dir := t.TempDir()

	out, err := run(t, dir, "apikey", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No API key")

	_, err = run(t, dir, "apikey", "set", "dk_1234567890abcdef")
	require.NoError(t, err)

	out, err = run(t, dir, "apikey", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "from store")
	assert.NotContains(t, out, "dk_1234567890abcdef")

	_, err = run(t, dir, "apikey", "clear")
	require.NoError(t, err)
	out, err = run(t, dir, "apikey", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No API key")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tempmail")
}

func TestDeleteUnknownAccount(t *testing.T) {
	_, err := run(t, t.TempDir(), "delete-account", "ghost@duck.test")
	assert.Error(t, err)
}

func TestMaxRetriesOption(t *testing.T) {
	assert.Equal(t, -1, maxRetriesOption(0))
	assert.Equal(t, 3, maxRetriesOption(3))
	assert.Equal(t, -2, maxRetriesOption(-2))
}

func storedPassword(t *testing.T, dir string) string {
	t.Helper()
	v := viper.New()
	v.Set("data_path", filepath.Join(dir, "tempmail.db"))
	cfg, err := config.Load(v, filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	st := a.session.Snapshot()
	require.Len(t, st.Accounts, 1)
	return st.Accounts[0].Password
}

func TestRememberPassword(t *testing.T) {
	backend := mailapitest.New(t)
	backend.AddAccount("a@duck.test", "pw")
	t.Setenv("TEMPMAIL_DUCKMAIL_BASE_URL", backend.URL())

	dir := t.TempDir()
	_, err := run(t, dir, "login", "a@duck.test", "-p", "pw")
	require.NoError(t, err)
	assert.Equal(t, "pw", storedPassword(t, dir))

	t.Setenv("TEMPMAIL_REMEMBER_PASSWORD", "false")
	dir = t.TempDir()
	_, err = run(t, dir, "login", "a@duck.test", "-p", "pw")
	require.NoError(t, err)
	assert.Empty(t, storedPassword(t, dir))

	out, err := run(t, dir, "accounts", "--current")
	require.NoError(t, err)
	assert.Contains(t, out, "a@duck.test")

	_, err = run(t, dir, "accounts", "--current", "--provider", "mailtm")
	assert.Error(t, err)
}
