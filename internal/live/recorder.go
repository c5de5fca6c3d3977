package live

import (
	"context"
	"fmt"
	"hlsrecd/internal/hls"
	"hlsrecd/internal/logger"
	"hlsrecd/internal/metrics"
	"hlsrecd/internal/models"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTakeCount is the synchronization window when none is configured.
	DefaultTakeCount = 15
	deltaBuffer      = 16
)

// Refresher reloads the media playlists of the given specs in place.
// *hls.Extractor satisfies it.
type Refresher interface {
	RefreshPlaylists(ctx context.Context, specs []*models.StreamSpec) error
}

// Options controls a recording session.
type Options struct {
	// WaitTime fixes the delay between polls. Zero derives it from the
	// playlists.
	WaitTime time.Duration
	// RecordLimit stops a rendition once this much media was discovered.
	// Zero records until cancelled or the playlist ends.
	RecordLimit time.Duration
	// TakeCount is the window SyncStreams trims renditions to.
	TakeCount int
}

// Delta is one poll's worth of new segments for a rendition.
type Delta struct {
	Stream   int
	Segments []models.MediaSegment
	// NextPoll is the delay before the rendition is polled again, or zero
	// when it will not be.
	NextPoll time.Duration
}

// StreamStatus is the externally visible state of one rendition.
type StreamStatus struct {
	Index            int    `json:"index"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	Segments         int    `json:"segments"`
	RefreshedSeconds int    `json:"refreshed_seconds"`
	LastIndex        int64  `json:"last_index"`
	Resets           int    `json:"resets"`
	Polls            int    `json:"polls"`
	LastError        string `json:"last_error,omitempty"`
	Done             bool   `json:"done"`
	LimitReached     bool   `json:"limit_reached"`
}

// Status describes a recording session.
type Status struct {
	Session     string         `json:"session"`
	Started     time.Time      `json:"started"`
	WaitSeconds int            `json:"wait_seconds"`
	Streams     []StreamStatus `json:"streams"`
}

// streamState is guarded by Recorder.mu. The cursor itself is only touched
// by the rendition's poll goroutine; a copy is kept here for Snapshot.
type streamState struct {
	name      string
	url       string
	cursor    Cursor
	parts     []models.MediaPart
	mediaInit *models.MediaSegment
	target    *float64
	polls     int
	emitted   int
	lastErr   error
	done      bool
	limit     bool
}

// Recorder polls live renditions and emits only new segments per rendition.
type Recorder struct {
	specs     []*models.StreamSpec
	refresher Refresher
	opts      Options
	log       logger.Logger
	id        string

	outs []chan Delta

	mu       sync.RWMutex
	streams  []*streamState
	started  time.Time
	waitTime time.Duration
}

// NewRecorder creates a recorder for specs whose media playlists are already
// loaded. Each rendition gets its own delta channel.
func NewRecorder(specs []*models.StreamSpec, refresher Refresher, opts Options, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	id := uuid.NewString()
	r := &Recorder{
		specs:     specs,
		refresher: refresher,
		opts:      opts,
		log:       log.With("component", "recorder").With("session", id),
		id:        id,
		outs:      make([]chan Delta, len(specs)),
		streams:   make([]*streamState, len(specs)),
	}
	for i, spec := range specs {
		r.outs[i] = make(chan Delta, deltaBuffer)
		r.streams[i] = &streamState{name: spec.ShortString(), url: spec.URL}
	}
	return r
}

// ID returns the session identifier.
func (r *Recorder) ID() string {
	return r.id
}

// Deltas returns the channel of rendition i. It is closed when the
// rendition stops.
func (r *Recorder) Deltas(i int) <-chan Delta {
	return r.outs[i]
}

// WaitTime returns the poll delay to use when none is configured: half the
// shortest first-part duration minus two seconds, at least one second.
func WaitTime(specs []*models.StreamSpec, configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	shortest := math.MaxFloat64
	for _, s := range specs {
		if s.Manifest == nil || len(s.Manifest.Parts) == 0 {
			continue
		}
		shortest = min(shortest, s.Manifest.Parts[0].Duration())
	}
	if shortest == math.MaxFloat64 {
		return time.Second
	}
	secs := max(int(shortest/2)-2, 1)
	return time.Duration(secs) * time.Second
}

// Run synchronizes the renditions and polls each until its playlist ends,
// its record limit is reached, a parse error occurs or ctx is cancelled.
// A failing rendition never stops the others.
func (r *Recorder) Run(ctx context.Context) error {
	for _, spec := range r.specs {
		if spec.Manifest == nil {
			for _, out := range r.outs {
				close(out)
			}
			return fmt.Errorf("stream %s has no media playlist loaded", spec.ShortString())
		}
	}

	window := r.opts.TakeCount
	if window == 0 {
		window = DefaultTakeCount
	}
	SyncStreams(r.specs, window)
	wait := WaitTime(r.specs, r.opts.WaitTime)

	r.mu.Lock()
	r.started = time.Now()
	r.waitTime = wait
	for i, spec := range r.specs {
		st := r.streams[i]
		st.cursor = NewCursor(spec.Manifest.FirstPart())
		st.mediaInit = spec.Manifest.MediaInit
		st.target = spec.Manifest.TargetDuration
	}
	r.mu.Unlock()

	r.log.Infof("recording %d streams, polling every %v", len(r.specs), wait)

	var g errgroup.Group
	for i := range r.specs {
		g.Go(func() error {
			metrics.ActiveStreams.Inc()
			defer metrics.ActiveStreams.Dec()
			return r.poll(ctx, i, wait)
		})
	}
	return g.Wait()
}

func (r *Recorder) poll(ctx context.Context, i int, wait time.Duration) error {
	spec := r.specs[i]
	out := r.outs[i]
	log := r.log.With("stream", i)
	defer close(out)
	defer r.update(i, func(st *streamState) { st.done = true })

	r.mu.RLock()
	cursor := r.streams[i].cursor
	name := r.streams[i].name
	r.mu.RUnlock()
	limit := int(r.opts.RecordLimit.Seconds())

	for first := true; ; first = false {
		if !first {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}

			if err := r.refresher.RefreshPlaylists(ctx, []*models.StreamSpec{spec}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.update(i, func(st *streamState) { st.polls++; st.lastErr = err })
				if hls.IsParseError(err) {
					metrics.IncPoll(name, "parse_error")
					log.Errorf("stopping stream %s: %v", name, err)
					return nil
				}
				metrics.IncPoll(name, "fetch_error")
				log.Warnf("poll failed for %s, retrying in %v: %v", name, wait, err)
				continue
			}
		}

		resets := cursor.Resets
		fresh := cursor.Reconcile(spec.Manifest.Segments())
		reset := cursor.Resets > resets
		if reset {
			metrics.IncSequenceReset(name)
			log.Warnf("media sequence reset on %s, renumbered up to %d", name, cursor.MaxIndex)
		}
		metrics.IncPoll(name, "ok")
		metrics.AddSegments(name, len(fresh))
		metrics.SetRecorded(name, cursor.RefreshedDuration)

		live := spec.Manifest.IsLive
		limited := limit > 0 && cursor.RefreshedDuration >= limit
		next := wait
		if !live || limited {
			next = 0
		}

		r.update(i, func(st *streamState) {
			st.polls++
			st.lastErr = nil
			st.cursor = cursor
			st.url = spec.URL
			st.emitted += len(fresh)
			st.limit = limited
			if spec.Manifest.MediaInit != nil {
				st.mediaInit = spec.Manifest.MediaInit
			}
			if len(fresh) == 0 {
				return
			}
			if len(st.parts) == 0 || reset {
				st.parts = append(st.parts, models.MediaPart{})
			}
			last := &st.parts[len(st.parts)-1]
			last.Segments = append(last.Segments, fresh...)
		})

		if len(fresh) > 0 {
			log.Debugf("%s: %d new segments, last index %d", name, len(fresh), cursor.MaxIndex)
			select {
			case out <- Delta{Stream: i, Segments: fresh, NextPoll: next}:
			case <-ctx.Done():
				return nil
			}
		}

		if limited {
			log.Infof("record limit reached on %s after %ds", name, cursor.RefreshedDuration)
			return nil
		}
		if !live {
			log.Infof("playlist ended on %s", name)
			return nil
		}
	}
}

func (r *Recorder) update(i int, fn func(st *streamState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.streams[i])
}

// Snapshot returns the current state of every rendition.
func (r *Recorder) Snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := Status{
		Session:     r.id,
		Started:     r.started,
		WaitSeconds: int(r.waitTime.Seconds()),
		Streams:     make([]StreamStatus, len(r.streams)),
	}
	for i, st := range r.streams {
		ss := StreamStatus{
			Index:            i,
			Name:             st.name,
			URL:              st.url,
			Segments:         st.emitted,
			RefreshedSeconds: st.cursor.RefreshedDuration,
			LastIndex:        st.cursor.MaxIndex,
			Resets:           st.cursor.Resets,
			Polls:            st.polls,
			Done:             st.done,
			LimitReached:     st.limit,
		}
		if st.lastErr != nil {
			ss.LastError = st.lastErr.Error()
		}
		status.Streams[i] = ss
	}
	return status
}

// Len returns the number of renditions.
func (r *Recorder) Len() int {
	return len(r.streams)
}

// Playlist returns everything emitted so far for rendition i as a manifest.
// A sequence reset starts a new part.
func (r *Recorder) Playlist(i int) (*models.Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.streams) {
		return nil, false
	}
	st := r.streams[i]
	m := models.NewManifest(st.url)
	m.IsLive = !st.done
	m.TargetDuration = st.target
	m.MediaInit = st.mediaInit
	m.Parts = make([]models.MediaPart, len(st.parts))
	for j, p := range st.parts {
		m.Parts[j] = models.MediaPart{Segments: append([]models.MediaSegment(nil), p.Segments...)}
	}
	return m, true
}

// ActiveURLs returns the playlist URLs of renditions still being polled.
// It serves as the manifest cache's eviction provider.
func (r *Recorder) ActiveURLs() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	urls := make(map[string]struct{}, len(r.streams))
	for _, st := range r.streams {
		if !st.done {
			urls[st.url] = struct{}{}
		}
	}
	return urls
}
