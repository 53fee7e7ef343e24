package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("CEREBRAS_API_KEY", "")
	t.Setenv("PARLEY_PROVIDER_API_KEY", "")

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)
}

func TestConfigPrintsEffectiveTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  api_key: sk-secret\nlimits:\n  rps: 3\n"), 0o600))

	stdout, _, err := executeCLI(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "[provider]")
	assert.Contains(t, stdout, "<redacted>")
	assert.NotContains(t, stdout, "sk-secret")
	assert.Contains(t, stdout, "[limits]")
	assert.Contains(t, stdout, "rps = 3")
	assert.Contains(t, stdout, "320ms")

	stdout, _, err = executeCLI(t, "config", "--config", path, "--show-secrets")
	require.NoError(t, err)
	assert.Contains(t, stdout, "sk-secret")
}

func TestConfigMissingFile(t *testing.T) {
	_, _, err := executeCLI(t, "config", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestLimitsFromServer(t *testing.T) {
	snap := admission.Snapshot{
		Limits: admission.Limits{RPS: 5, TPM: 1000, TPD: 5000, MaxConcurrent: 2},
		Usage:  admission.Usage{RequestsLastSecond: 1, TokensLastMinute: 250, TotalRequestsDispatched: 4},
		Queue:  admission.Queue{Pending: 2, InFlight: 1},
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/limits", r.URL.Path)
		_ = json.NewEncoder(w).Encode(snap)
	}))
	defer ts.Close()

	stdout, _, err := executeCLI(t, "limits", "--url", ts.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, stdout, "queue: 2 pending, 1 in flight")
	assert.Contains(t, stdout, "250/1000")

	stdout, _, err = executeCLI(t, "limits", "--url", ts.URL, "--json")
	require.NoError(t, err)
	var got admission.Snapshot
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, snap, got)
}

func TestLimitsServerError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, _, err := executeCLI(t, "limits", "--url", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestSimulateRequiresProvider(t *testing.T) {
	_, _, err := executeCLI(t, "simulate", "--duration", "10ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--mock")
}

func TestSimulateWithMockProvider(t *testing.T) {
	t.Setenv("PARLEY_CONVERSATION_MIN_TURN_DELAY", "5ms")
	t.Setenv("PARLEY_CONVERSATION_MAX_TURN_DELAY", "10ms")
	t.Setenv("PARLEY_LOGGING_LEVEL", "error")

	stdout, _, err := executeCLI(t, "simulate", "--mock", "--duration", "1s", "--tick", "20ms", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Interactions")
	assert.Contains(t, stdout, "Admission")
	assert.Contains(t, stdout, "compare notes")
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{config.ProviderMock, config.ProviderCerebras, config.ProviderOpenAI, config.ProviderAnthropic} {
		p, err := newProvider(config.ProviderConfig{Name: name, APIKey: "k"})
		require.NoError(t, err, name)
		assert.NotNil(t, p)
	}
	_, err := newProvider(config.ProviderConfig{Name: "other"})
	assert.Error(t, err)
}
