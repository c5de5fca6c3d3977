package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ManifestFetches counts manifest and key fetches by outcome.
	ManifestFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsrecd_manifest_fetch_total",
		Help: "Total number of manifest fetch attempts by result",
	}, []string{"result"})

	// ManifestFetchDuration tracks how long a single fetch attempt takes.
	ManifestFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hlsrecd_manifest_fetch_duration_seconds",
		Help:    "Time taken to fetch a manifest",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// LivePolls counts live refresh polls per rendition by result.
	LivePolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsrecd_live_polls_total",
		Help: "Total number of live manifest polls by stream and result",
	}, []string{"stream", "result"})

	// SegmentsEmitted counts segments handed downstream.
	SegmentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsrecd_segments_emitted_total",
		Help: "Total number of new segments emitted per stream",
	}, []string{"stream"})

	// SequenceResets counts polls where the server restarted its media
	// sequence and indices had to be shifted.
	SequenceResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsrecd_sequence_resets_total",
		Help: "Total number of detected media sequence resets per stream",
	}, []string{"stream"})

	// RecordedSeconds is the refreshed duration per stream.
	RecordedSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlsrecd_recorded_seconds",
		Help: "Duration of media discovered so far per stream",
	}, []string{"stream"})

	// ActiveStreams is the number of renditions currently being polled.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlsrecd_active_streams",
		Help: "Number of renditions currently being polled",
	})

	// ManifestCacheHits counts polls answered from the manifest cache.
	ManifestCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsrecd_manifest_cache_total",
		Help: "Manifest cache lookups by result",
	}, []string{"result"})
)

// ObserveFetch records one fetch attempt.
func ObserveFetch(err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ManifestFetches.WithLabelValues(result).Inc()
	ManifestFetchDuration.Observe(d.Seconds())
}

// IncPoll records one live poll outcome ("ok", "fetch_error", "parse_error").
func IncPoll(stream, result string) {
	LivePolls.WithLabelValues(stream, result).Inc()
}

// AddSegments records n segments emitted for stream.
func AddSegments(stream string, n int) {
	if n > 0 {
		SegmentsEmitted.WithLabelValues(stream).Add(float64(n))
	}
}

// IncSequenceReset records a media sequence reset for stream.
func IncSequenceReset(stream string) {
	SequenceResets.WithLabelValues(stream).Inc()
}

// SetRecorded sets the refreshed duration of stream in seconds.
func SetRecorded(stream string, seconds int) {
	RecordedSeconds.WithLabelValues(stream).Set(float64(seconds))
}

// IncCache records a manifest cache lookup.
func IncCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ManifestCacheHits.WithLabelValues(result).Inc()
}
