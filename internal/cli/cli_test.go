package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgrandl/pacer/pkg/fetch"
	"github.com/mgrandl/pacer/pkg/scheduler"
)

func TestReadURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "https://example.com/a\n\n# a comment\n  https://example.com/b  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	urls, err := readURLs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)
}

func TestReadURLs_MissingFile(t *testing.T) {
	_, err := readURLs(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}

func TestRunBatch_FetchesAllURLs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := fetch.New(fetch.DefaultConfig(), fetch.WithLogger(logger))
	defer client.Close()
	sched := scheduler.New(scheduler.Config{MaxConcurrentTasks: 2}, scheduler.WithLogger(logger))

	urls := []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"}
	err := runBatch(context.Background(), sched, client, logger, urls, http.MethodGet, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRunBatch_ReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := fetch.New(fetch.DefaultConfig(), fetch.WithLogger(logger))
	defer client.Close()
	sched := scheduler.New(scheduler.Config{}, scheduler.WithLogger(logger))

	err := runBatch(context.Background(), sched, client, logger,
		[]string{srv.URL}, http.MethodGet, time.Second)
	require.ErrorContains(t, err, "1 of 1 requests failed")
}

func TestInitCmd_WritesConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "pacer.yaml")
	cfgFile = dest
	t.Cleanup(func() { cfgFile = "" })

	cmd := newInitCmd()
	require.NoError(t, cmd.RunE(cmd, nil))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_concurrent_tasks")
	assert.Contains(t, string(data), "retry_on_status")

	// Refuses to overwrite unless forced.
	require.Error(t, cmd.RunE(cmd, nil))
	require.NoError(t, cmd.Flags().Set("force", "true"))
	require.NoError(t, cmd.RunE(cmd, nil))
}
