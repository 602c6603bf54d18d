package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	cfgpkg "github.com/local/imagedescriber/internal/config"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 2, 0, 0, 0}

func testApp(out io.Writer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func setEnv(t *testing.T, upstreamURL string) {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("UPSTREAM_TOKEN", "")
	t.Setenv("UPSTREAM_BASE_URL", upstreamURL)
	t.Setenv("UPSTREAM_API", "chat")
	t.Setenv("UPSTREAM_PATH", "")
	t.Setenv("UPSTREAM_MAX_ATTEMPTS", "1")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_FILE", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SEND_LOGS_TO_AXIOM", "0")
}

func TestDescribeCommandFile(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"A tiny square."}}]}`)
	}))
	defer srv.Close()
	setEnv(t, srv.URL)

	p := filepath.Join(t.TempDir(), "pixel.png")
	require.NoError(t, os.WriteFile(p, pngHeader, 0o600))

	var out bytes.Buffer
	err := testApp(&out).Run([]string{"imagedescriber", "describe", "--file", p, "--json"})
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "A tiny square.", got["analysis"])
	assert.Equal(t, "chat_completion", got["shape"])
	assert.Equal(t, "Bearer ghp_test", auth)

	_, statErr := os.Stat(p)
	assert.NoError(t, statErr, "caller-owned files are kept")
}

func TestDescribeCommandUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "gateway down")
	}))
	defer srv.Close()
	setEnv(t, srv.URL)

	err := testApp(io.Discard).Run([]string{"imagedescriber", "describe", "--image", "AAAA"})
	var exitErr cli.ExitCoder
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, err.Error(), "gateway down")
}

func TestDescribeCommandNeedsOneInput(t *testing.T) {
	setEnv(t, "http://127.0.0.1:1")

	for _, args := range [][]string{
		{"imagedescriber", "describe"},
		{"imagedescriber", "describe", "--image", "AAAA", "--file", "x.png"},
	} {
		err := testApp(io.Discard).Run(args)
		var exitErr cli.ExitCoder
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, 2, exitErr.ExitCode())
	}
}

func TestMissingCredentialIsFatal(t *testing.T) {
	setEnv(t, "http://127.0.0.1:1")
	t.Setenv("GITHUB_TOKEN", "")

	err := testApp(io.Discard).Run([]string{"imagedescriber", "describe", "--image", "AAAA"})
	assert.ErrorIs(t, err, cfgpkg.ErrMissingCredential)
}

func TestOptionalDependenciesDegrade(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = io.WriteString(w, `{"output_text":"Still works."}`)
	}))
	defer srv.Close()
	setEnv(t, srv.URL)
	t.Setenv("UPSTREAM_API", "grpc")
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1/0")

	var out bytes.Buffer
	err := testApp(&out).Run([]string{"imagedescriber", "describe", "--image", "AAAA", "--json"})
	require.NoError(t, err)
	assert.Equal(t, "/chat/completions", path)
	assert.Contains(t, out.String(), "Still works.")
}
