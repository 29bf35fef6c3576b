package departure

import (
	"sync"

	"github.com/apex/log"
	"github.com/depboard/depboard/common"
)

// Cache most recently fetched departures per stop. It is shared by all
// connected clients and never cleared on a single client's disconnect;
// staleness is bounded only by the refresh interval.
type Cache interface {
	// Get fetch the cached departures of a stop. The second return value
	// is false if the stop was never fetched.
	Get(stopID string) ([]Departure, bool)
	// Set overwrite the cached departures of a stop
	Set(stopID string, departures []Departure)
	// Has check whether a stop has a cache entry
	Has(stopID string) bool
}

// departureCacheImpl implements Cache
type departureCacheImpl struct {
	common.Component
	mu      sync.RWMutex
	entries map[string][]Departure
}

// GetDepartureCacheInstance create new departure cache instance
func GetDepartureCacheInstance() (Cache, error) {
	logTags := log.Fields{
		"module": "departure", "component": "cache",
	}
	return &departureCacheImpl{
		Component: common.Component{LogTags: logTags},
		entries:   make(map[string][]Departure),
	}, nil
}

// Get fetch the cached departures of a stop
func (c *departureCacheImpl) Get(stopID string) ([]Departure, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[stopID]
	if !ok {
		return nil, false
	}
	result := make([]Departure, len(entry))
	copy(result, entry)
	return result, true
}

// Set overwrite the cached departures of a stop
func (c *departureCacheImpl) Set(stopID string, departures []Departure) {
	entry := make([]Departure, len(departures))
	copy(entry, departures)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stopID] = entry
	log.WithFields(c.LogTags).Debugf("Cached %d departures for %s", len(entry), stopID)
}

// Has check whether a stop has a cache entry
func (c *departureCacheImpl) Has(stopID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[stopID]
	return ok
}
