package pprof

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{HTTPAddr: "127.0.0.1:0"}.Enabled())
	assert.True(t, Config{HeapProfile: "heap.out"}.Enabled())
}

func TestRoutesServeIndex(t *testing.T) {
	srv := httptest.NewServer(Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/pprof/goroutine?debug=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "goroutine")
}

func TestStartStopWritesProfiles(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(Config{
		HTTPAddr:    "127.0.0.1:0",
		CPUProfile:  filepath.Join(dir, "cpu", "cpu.out"),
		HeapProfile: filepath.Join(dir, "heap.out"),
	})
	require.NoError(t, h.Start())
	require.NotEmpty(t, h.Addr())

	resp, err := http.Get("http://" + h.Addr() + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, h.Stop(context.Background()))
	require.NoError(t, h.Stop(context.Background()))
	assert.Empty(t, h.Addr())

	for _, name := range []string{"cpu/cpu.out", "heap.out"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}
