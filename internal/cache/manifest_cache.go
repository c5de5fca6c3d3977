package cache

import (
	"context"
	"crypto/sha256"
	"hlsrecd/internal/logger"
	"hlsrecd/internal/metrics"
	"sync"
	"time"
)

// DefaultEvictionInterval is how often the eviction worker runs when no
// interval is configured.
const DefaultEvictionInterval = 30 * time.Second

// ActiveKeysProvider returns the set of keys that must be kept. Keys not in
// the set are evicted on the next pass.
type ActiveKeysProvider func() map[string]struct{}

type entry struct {
	text   string
	digest [sha256.Size]byte
	seen   time.Time
}

// ManifestCache remembers the last raw manifest per rendition URL so an
// unchanged reload can skip parsing. It is safe for concurrent use.
type ManifestCache struct {
	mutex              sync.RWMutex
	entries            map[string]entry
	logger             logger.Logger
	activeKeysProvider ActiveKeysProvider
	interval           time.Duration
	maxAge             time.Duration

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a ManifestCache. provider may be nil, in which case entries
// are only evicted by age. A zero maxAge keeps entries until evicted by the
// provider.
func New(log logger.Logger, provider ActiveKeysProvider, interval, maxAge time.Duration) *ManifestCache {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ManifestCache{
		entries:            make(map[string]entry),
		logger:             log.With("component", "manifest_cache"),
		activeKeysProvider: provider,
		interval:           interval,
		maxAge:             maxAge,
		ctx:                ctx,
		cancel:             cancel,
		done:               make(chan struct{}),
	}
}

// Start begins the background eviction worker.
func (mc *ManifestCache) Start() {
	mc.logger.Debugf("Starting manifest cache eviction worker...")
	go mc.evictionWorker()
}

// Stop shuts down the eviction worker and waits for it to exit. Stop must
// only be called after Start.
func (mc *ManifestCache) Stop() {
	mc.cancel()
	<-mc.done
}

// Set stores the manifest text for key.
func (mc *ManifestCache) Set(key, text string) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.entries[key] = entry{text: text, digest: sha256.Sum256([]byte(text)), seen: time.Now()}
}

// Get returns the last manifest text stored for key.
func (mc *ManifestCache) Get(key string) (string, bool) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	e, found := mc.entries[key]
	return e.text, found
}

// Unchanged reports whether text equals what is stored for key. It never
// stores text; callers Set it once the text has been accepted.
func (mc *ManifestCache) Unchanged(key, text string) bool {
	digest := sha256.Sum256([]byte(text))

	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	e, found := mc.entries[key]
	hit := found && e.digest == digest
	metrics.IncCache(hit)
	if hit {
		e.seen = time.Now()
		mc.entries[key] = e
	}
	return hit
}

// Len returns the number of cached manifests.
func (mc *ManifestCache) Len() int {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return len(mc.entries)
}

// evictionWorker runs in the background to drop stale manifests.
func (mc *ManifestCache) evictionWorker() {
	defer close(mc.done)
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-mc.ctx.Done():
			mc.logger.Debugf("Eviction worker stopped.")
			return
		case <-ticker.C:
			mc.RunEviction()
		}
	}
}

// RunEviction makes one eviction pass.
func (mc *ManifestCache) RunEviction() {
	var active map[string]struct{}
	if mc.activeKeysProvider != nil {
		active = mc.activeKeysProvider()
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	evictedCount := 0
	now := time.Now()
	for key, e := range mc.entries {
		_, isActive := active[key]
		stale := mc.maxAge > 0 && now.Sub(e.seen) > mc.maxAge
		if (active != nil && !isActive) || stale {
			delete(mc.entries, key)
			evictedCount++
		}
	}

	if evictedCount > 0 {
		mc.logger.Infof("Evicted %d manifests from cache. Current cache size: %d manifests.", evictedCount, len(mc.entries))
	}
}
