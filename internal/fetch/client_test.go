package fetch_test

import (
	"context"
	"errors"
	"hlsrecd/internal/fetch"
	"hlsrecd/internal/logger"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	opts.Timeout = 2 * time.Second
	return opts
}

func TestClient_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start.m3u8", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/final.m3u8", http.StatusFound)
	})
	mux.HandleFunc("/cdn/final.m3u8", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hlsrecd-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		w.Write([]byte("#EXTM3U\n"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	opts := testOptions()
	opts.UserAgent = "hlsrecd-test"
	opts.Headers = map[string]string{"x-token": "default"}
	client := fetch.NewClient(opts, logger.Nop())

	body, finalURL, err := client.FetchText(context.Background(), server.URL+"/start.m3u8", map[string]string{"X-Token": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", body)
	assert.Equal(t, server.URL+"/cdn/final.m3u8", finalURL)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := fetch.NewClient(testOptions(), logger.Nop())
	body, _, err := client.FetchText(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := fetch.NewClient(testOptions(), logger.Nop())
	_, _, err := client.FetchText(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetch.ErrStatus)

	var se *fetch.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RedirectLoop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/a", http.StatusFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := fetch.NewClient(testOptions(), logger.Nop())
	_, _, err := client.FetchText(context.Background(), server.URL+"/a", nil)
	assert.ErrorIs(t, err, fetch.ErrRedirectLoop)
}

func TestClient_FetchKey(t *testing.T) {
	key := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(key)
	}))
	defer server.Close()

	client := fetch.NewClient(testOptions(), logger.Nop())
	got, err := client.FetchKey(context.Background(), server.URL+"/key", nil)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestClient_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.m3u8")
	require.NoError(t, os.WriteFile(path, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0o644))

	client := fetch.NewClient(testOptions(), logger.Nop())

	body, finalURL, err := client.FetchText(context.Background(), "file://"+path, nil)
	require.NoError(t, err)
	assert.Contains(t, body, "#EXT-X-ENDLIST")
	assert.Equal(t, "file://"+path, finalURL)

	body, _, err = client.FetchText(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Contains(t, body, "#EXTM3U")

	_, _, err = client.FetchText(context.Background(), filepath.Join(dir, "missing.m3u8"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	opts := testOptions()
	opts.RateLimit = 0.001
	opts.Burst = 1
	client := fetch.NewClient(opts, logger.Nop())

	_, _, err := client.FetchText(context.Background(), server.URL, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = client.FetchText(ctx, server.URL, nil)
	assert.Error(t, err)
}
