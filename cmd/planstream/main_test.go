package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}

	require.NoError(t, setConfigValue(cfg, "default.base_url", "https://api.test/"))
	assert.Equal(t, "https://api.test", cfg.Default.BaseURL)

	require.NoError(t, setConfigValue(cfg, "default.transport", "ws"))
	assert.Equal(t, "ws", cfg.Default.Transport)

	require.NoError(t, setConfigValue(cfg, "default.dev_mode", "true"))
	assert.True(t, cfg.Default.DevMode)

	require.NoError(t, setConfigValue(cfg, "auth.token", "secret"))
	assert.Equal(t, "secret", cfg.Auth.Token)

	assert.Error(t, setConfigValue(cfg, "default.transport", "grpc"))
	assert.Error(t, setConfigValue(cfg, "default.dev_mode", "maybe"))
	assert.Error(t, setConfigValue(cfg, "default.nope", "x"))
	assert.Error(t, setConfigValue(cfg, "nosection", "x"))
	assert.Error(t, setConfigValue(cfg, "other.field", "x"))
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Default.BaseURL)

	cfg.Default.BaseURL = "https://api.test"
	cfg.Auth.Token = "tok"
	require.NoError(t, saveConfig(cfg))

	path, err := configPath()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, *cfg, *loaded)
}

func TestEffectiveToken(t *testing.T) {
	cfg := &Config{Auth: ConfigAuth{Token: "stored"}}

	t.Setenv(tokenEnv, "")
	assert.Equal(t, "stored", effectiveToken(cfg))

	t.Setenv(tokenEnv, "from-env")
	assert.Equal(t, "from-env", effectiveToken(cfg))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "abcd...mnop", maskKey("abcdefghijklmnop"))
	assert.Equal(t, "abcdefghijkl...wxyz", maskKey("abcdefghijklmnopqrstuvwxyz"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"step", "note"}, splitList(" step, ,note,"))
	assert.Nil(t, splitList(""))
}

func TestNewStreamClient_Validation(t *testing.T) {
	t.Setenv(tokenEnv, "")

	_, err := newStreamClient(&Config{}, clientOverrides{})
	assert.ErrorContains(t, err, "no base URL")

	_, err = newStreamClient(&Config{Default: ConfigDefault{BaseURL: "https://api.test"}}, clientOverrides{Transport: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown transport")

	c, err := newStreamClient(&Config{Default: ConfigDefault{BaseURL: "https://api.test", Transport: "ws"}}, clientOverrides{})
	require.NoError(t, err)
	c.Disconnect()
}

func TestInitCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"init", "https://api.test/", "--token", "tok-123"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	require.NoError(t, rootCmd.Execute())

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://api.test", cfg.Default.BaseURL)
	assert.Equal(t, "http", cfg.Default.Transport)
	assert.Equal(t, "tok-123", cfg.Auth.Token)
	assert.Contains(t, out.String(), filepath.Join(".planstream", "config.toml"))
}

func TestPrintConfigSummary_MasksToken(t *testing.T) {
	t.Setenv(tokenEnv, "")
	var out bytes.Buffer
	printConfigSummary(&out, &Config{
		Default: ConfigDefault{BaseURL: "https://api.test"},
		Auth:    ConfigAuth{Token: "abcdefghijklmnopqrstuvwxyz"},
	})
	assert.Contains(t, out.String(), "https://api.test")
	assert.Contains(t, out.String(), "abcdefghijkl...wxyz")
	assert.NotContains(t, out.String(), "abcdefghijklmnopqrstuvwxyz")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchPlans(t *testing.T) {
	t.Setenv(tokenEnv, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Let both subscriptions register before any event arrives.
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, "event: step\nid: 7\ndata: {\"planId\":\"p1\",\"n\":1}\n\n")
		fmt.Fprint(w, "event: note\ndata: {\"planId\":\"p2\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	client, err := newStreamClient(&Config{Default: ConfigDefault{BaseURL: srv.URL}}, clientOverrides{})
	require.NoError(t, err)
	defer client.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout, stderr := &lockedBuffer{}, &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- watchPlans(ctx, client, []string{"p1", "p2"}, stdout, stderr) }()

	require.Eventually(t, func() bool {
		return strings.Count(stdout.String(), "\n") == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	var first, second watchLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "p1", first.Plan)
	assert.Equal(t, "step", first.Type)
	require.NotNil(t, first.Sequence)
	assert.EqualValues(t, 7, *first.Sequence)
	assert.JSONEq(t, `{"planId":"p1","n":1}`, string(first.Payload))

	// The id carries over to later events on the same connection.
	assert.Equal(t, "p2", second.Plan)
	require.NotNil(t, second.Sequence)
	assert.EqualValues(t, 7, *second.Sequence)
	assert.Contains(t, stderr.String(), "[live]")
}
