// ABOUTME: Tests for the coven-concierge command tree
// ABOUTME: Runs subcommands in-process against temp config and agent pack files

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-concierge/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const testConfig = `
vs_agent:
  enabled: true
  admin_url: "http://localhost:3001"
database:
  path: "./test.db"
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  issuer: "coven-concierge"
`

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "coven-concierge dev\n", out)
}

func TestPackValidate(t *testing.T) {
	path := writeTemp(t, "agent-pack.yaml", `
metadata:
  id: front-desk
  displayName: Front Desk
languages:
  es:
    welcomeMessage: "Hola"
  en:
    welcomeMessage: "Hello"
flows:
  menu:
    items:
      - id: authenticate
        labelKey: CREDENTIAL
      - id: logout
        labelKey: LOGOUT
`)

	out, err := execute(t, "pack", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, `agent pack "front-desk" is valid`)
	assert.Contains(t, out, "languages: en, es")
	assert.Contains(t, out, "menu:      authenticate, logout")
}

func TestPackValidate_Invalid(t *testing.T) {
	path := writeTemp(t, "agent-pack.yaml", "metadata:\n  displayName: Missing ID\n")

	_, err := execute(t, "pack", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
}

func TestTokenCmd(t *testing.T) {
	cfgPath := writeTemp(t, "concierge.yaml", testConfig)

	out, err := execute(t, "--config", cfgPath, "token", "--subject", "agent-1", "--expires", "1h")
	require.NoError(t, err)

	verifier := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"), "coven-concierge")
	subject, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "agent-1", subject)
}

func TestTokenCmd_NoSecret(t *testing.T) {
	cfgPath := writeTemp(t, "concierge.yaml", strings.Replace(testConfig, `jwt_secret: "0123456789abcdef0123456789abcdef"`, `jwt_secret: ""`, 1))

	_, err := execute(t, "--config", cfgPath, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestConfigFlagFallsBackToEnv(t *testing.T) {
	cfgPath := writeTemp(t, "concierge.yaml", testConfig)
	t.Setenv("COVEN_CONCIERGE_CONFIG", cfgPath)

	opts := &rootOptions{}
	assert.Equal(t, cfgPath, opts.resolveConfigPath())

	opts.configPath = "/explicit.yaml"
	assert.Equal(t, "/explicit.yaml", opts.resolveConfigPath())
}

func TestCheckReady(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, checkReady(context.Background(), srv.URL, cmd))
	assert.Equal(t, "healthy\n", out.String())

	ready.Store(false)
	err := checkReady(context.Background(), srv.URL, cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
