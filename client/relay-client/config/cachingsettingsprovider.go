package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
)

const (
	// DefaultSettingsCacheTimeout is the default cache timeout period
	DefaultSettingsCacheTimeout = 5 * time.Minute

	loadTimeout = 30 * time.Second
)

// SettingsLoader produces a fresh copy of some settings, e.g. by re-reading the config file
type SettingsLoader[T any] func(ctx context.Context) (T, error)

// CachingSettingsProvider serves settings from a cache and refreshes them in
// the background once they are older than the cache timeout. Callers never block
// on a refresh and keep getting the last good settings if a refresh fails.
type CachingSettingsProvider[T any] struct {
	logger          logging.Logger
	load            SettingsLoader[T]
	mutex           sync.RWMutex
	cached          T
	lastFetchTime   time.Time
	fetchInProgress bool
	cacheTimeout    time.Duration
	now             func() time.Time
}

// NewCachingSettingsProvider performs an initial load and returns an error if it fails.
// If cacheTimeout is 0, DefaultSettingsCacheTimeout is used.
func NewCachingSettingsProvider[T any](logger logging.Logger, load SettingsLoader[T], cacheTimeout time.Duration) (*CachingSettingsProvider[T], error) {
	if logger == nil {
		logger = logging.NopLogger
	}
	if cacheTimeout == 0 {
		cacheTimeout = DefaultSettingsCacheTimeout
	}

	provider := &CachingSettingsProvider[T]{
		logger:       logger,
		load:         load,
		cacheTimeout: cacheTimeout,
		now:          time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	settings, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial settings: %w", err)
	}

	provider.cached = settings
	provider.lastFetchTime = provider.now()

	return provider, nil
}

// GetSettings returns the current settings, implementing SettingsProvider interface
func (p *CachingSettingsProvider[T]) GetSettings() T {
	p.mutex.RLock()
	needsRefresh := p.now().Sub(p.lastFetchTime) > p.cacheTimeout
	fetchInProgress := p.fetchInProgress
	current := p.cached
	p.mutex.RUnlock()

	if needsRefresh && !fetchInProgress {
		go p.refresh()
	}

	return current
}

// refresh loads settings in the background without blocking readers
func (p *CachingSettingsProvider[T]) refresh() {
	p.mutex.Lock()
	if p.fetchInProgress {
		p.mutex.Unlock()
		return
	}
	p.fetchInProgress = true
	p.mutex.Unlock()

	defer func() {
		p.mutex.Lock()
		p.fetchInProgress = false
		p.mutex.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	settings, err := p.load(ctx)
	if err != nil {
		p.logger.Warn("Failed to refresh settings, keeping cached values", "error", err)
		return
	}

	p.mutex.Lock()
	p.cached = settings
	p.lastFetchTime = p.now()
	p.mutex.Unlock()
}
