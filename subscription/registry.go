package subscription

import (
	"sync"

	"github.com/apex/log"
	"github.com/depboard/depboard/common"
)

// Registry tracks which stops each connected client is interested in.
// Entries exist only for the lifetime of their connection.
type Registry interface {
	// Set replace the full stop list of a client. Last write wins.
	Set(clientID string, stopIDs []string)
	// Remove delete the entry of a client
	Remove(clientID string)
	// StopsFor fetch the stop list of a client in subscription order.
	// The second return value is false if the client is unknown.
	StopsFor(clientID string) ([]string, bool)
	// AllSubscribedStops the deduplicated union of stops across all clients.
	// No ordering is guaranteed.
	AllSubscribedStops() []string
	// Snapshot copy of all current entries
	Snapshot() map[string][]string
	// ActiveClients number of clients currently holding an entry
	ActiveClients() int
}

// subscriptionRegistryImpl implements Registry
type subscriptionRegistryImpl struct {
	common.Component
	mu   sync.RWMutex
	subs map[string][]string
}

// GetRegistryInstance create new subscription registry instance
func GetRegistryInstance() (Registry, error) {
	logTags := log.Fields{
		"module": "subscription", "component": "registry",
	}
	return &subscriptionRegistryImpl{
		Component: common.Component{LogTags: logTags},
		subs:      make(map[string][]string),
	}, nil
}

// Set replace the full stop list of a client
func (r *subscriptionRegistryImpl) Set(clientID string, stopIDs []string) {
	entry := make([]string, len(stopIDs))
	copy(entry, stopIDs)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[clientID] = entry
	log.WithFields(r.LogTags).Debugf("Client %s now watches %v", clientID, entry)
}

// Remove delete the entry of a client
func (r *subscriptionRegistryImpl) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, clientID)
}

// StopsFor fetch the stop list of a client
func (r *subscriptionRegistryImpl) StopsFor(clientID string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.subs[clientID]
	if !ok {
		return nil, false
	}
	result := make([]string, len(entry))
	copy(result, entry)
	return result, true
}

// AllSubscribedStops the deduplicated union of stops across all clients
func (r *subscriptionRegistryImpl) AllSubscribedStops() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	result := []string{}
	for _, stops := range r.subs {
		for _, stopID := range stops {
			if !seen[stopID] {
				seen[stopID] = true
				result = append(result, stopID)
			}
		}
	}
	return result
}

// Snapshot copy of all current entries
func (r *subscriptionRegistryImpl) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string][]string, len(r.subs))
	for clientID, stops := range r.subs {
		entry := make([]string, len(stops))
		copy(entry, stops)
		result[clientID] = entry
	}
	return result
}

// ActiveClients number of clients currently holding an entry
func (r *subscriptionRegistryImpl) ActiveClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
