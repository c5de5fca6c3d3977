package api

import (
	"encoding/json"
	"fmt"
	"hlsrecd/internal/hls"
	"hlsrecd/internal/live"
	"hlsrecd/internal/logger"
	"hlsrecd/internal/models"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recording is the read side of a live recording session.
type Recording interface {
	Snapshot() live.Status
	Playlist(i int) (*models.Manifest, bool)
}

// SourceStore returns the last raw playlist fetched for a URL.
type SourceStore interface {
	Get(url string) (string, bool)
}

type API struct {
	recording Recording
	sources   SourceStore
	logger    logger.Logger
}

// New builds the status router. sources may be nil. requestsPerMinute limits
// the stream routes per client IP; 0 disables the limit.
func New(recording Recording, sources SourceStore, requestsPerMinute int, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	api := &API{
		recording: recording,
		sources:   sources,
		logger:    log.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", api.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/streams", func(r chi.Router) {
		if requestsPerMinute > 0 {
			r.Use(rateLimit(requestsPerMinute, time.Minute))
		}
		r.Get("/", api.handleStreams)
		r.Get("/{index}/playlist.m3u8", api.handlePlaylist)
		r.Get("/{index}/source.m3u8", api.handleSource)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok\n"))
}

func (a *API) handleStreams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.recording.Snapshot()); err != nil {
		a.logger.Errorf("Failed to encode status: %v", err)
	}
}

func (a *API) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "Invalid stream index", http.StatusBadRequest)
		return
	}

	m, found := a.recording.Playlist(index)
	if !found {
		http.Error(w, fmt.Sprintf("Stream %d not found", index), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(hls.WriteMedia(m)))
}

func (a *API) handleSource(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "Invalid stream index", http.StatusBadRequest)
		return
	}

	streams := a.recording.Snapshot().Streams
	if index < 0 || index >= len(streams) {
		http.Error(w, fmt.Sprintf("Stream %d not found", index), http.StatusNotFound)
		return
	}
	if a.sources == nil {
		http.Error(w, "Source playlists are not retained", http.StatusNotFound)
		return
	}

	text, found := a.sources.Get(streams[index].URL)
	if !found {
		http.Error(w, "Source playlist not fetched yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(text))
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
		}),
	)
}
