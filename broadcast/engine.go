package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/depboard/depboard/common"
	"github.com/depboard/depboard/departure"
	"github.com/depboard/depboard/subscription"
	"github.com/depboard/depboard/upstream"
)

// BoardUpdate per-client push payload. Every stop the client subscribed to
// is present as a key; a nil value marshals to JSON null and marks a stop
// which was never fetched, so clients can tell "no data yet" apart from
// "known, no departures".
type BoardUpdate map[string][]departure.Departure

// Sender capability for pushing board updates to one connected client. Its
// lifetime is tied exactly to the connection being open.
type Sender interface {
	SendBoard(update BoardUpdate) error
}

// Engine orchestrates departure refreshes: decides which stops need
// fetching, merges gateway results into the cache, and fans filtered
// snapshots out to the clients that need them.
type Engine interface {
	// RegisterSender attach the send handle of a newly opened connection
	RegisterSender(clientID string, sender Sender)
	// ClearSender detach the send handle of a closed connection
	ClearSender(clientID string)
	// RefreshClient fetch departures a single client is still missing and
	// push that client its current board
	RefreshClient(ctxt context.Context, clientID string) error
	// RefreshAll refetch the union of all subscribed stops and push every
	// client its current board
	RefreshAll(ctxt context.Context) error
}

// broadcastEngineImpl implements Engine
type broadcastEngineImpl struct {
	common.Component
	registry subscription.Registry
	cache    departure.Cache
	gateway  upstream.Gateway
	mu       sync.RWMutex
	senders  map[string]Sender
}

// GetBroadcastEngineInstance create new broadcast engine instance
func GetBroadcastEngineInstance(
	registry subscription.Registry, cache departure.Cache, gateway upstream.Gateway,
) (Engine, error) {
	logTags := log.Fields{
		"module": "broadcast", "component": "engine",
	}
	return &broadcastEngineImpl{
		Component: common.Component{LogTags: logTags},
		registry:  registry,
		cache:     cache,
		gateway:   gateway,
		senders:   make(map[string]Sender),
	}, nil
}

// RegisterSender attach the send handle of a newly opened connection
func (e *broadcastEngineImpl) RegisterSender(clientID string, sender Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.senders[clientID] = sender
}

// ClearSender detach the send handle of a closed connection
func (e *broadcastEngineImpl) ClearSender(clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.senders, clientID)
}

// senderFor fetch the send handle of a client, if the connection is open
func (e *broadcastEngineImpl) senderFor(clientID string) Sender {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.senders[clientID]
}

// RefreshClient fetch departures a single client is still missing and push
// that client its current board. Only stops without a cache entry are
// fetched; the periodic cycle keeps already known stops fresh.
func (e *broadcastEngineImpl) RefreshClient(ctxt context.Context, clientID string) error {
	stops, ok := e.registry.StopsFor(clientID)
	if !ok {
		// Client disconnected before this refresh ran
		return nil
	}

	missing := []string{}
	for _, stopID := range stops {
		if !e.cache.Has(stopID) {
			missing = append(missing, stopID)
		}
	}
	if len(missing) > 0 {
		e.fetchIntoCache(ctxt, missing)
	}

	return e.pushBoard(clientID, stops)
}

// RefreshAll refetch the union of all subscribed stops and push every client
// its current board. Cached stops are refetched unconditionally, since
// departures change even for stops already known.
func (e *broadcastEngineImpl) RefreshAll(ctxt context.Context) error {
	union := e.registry.AllSubscribedStops()
	if len(union) == 0 {
		// Nothing subscribed, nothing fetched, nothing to push
		return nil
	}

	if !e.fetchIntoCache(ctxt, union) {
		// Nothing changed this round, skip re-sending
		return nil
	}

	for clientID, stops := range e.registry.Snapshot() {
		if err := e.pushBoard(clientID, stops); err != nil {
			log.WithError(err).WithFields(e.LogTags).Errorf(
				"Unable to push board to %s", clientID,
			)
		}
	}
	return nil
}

// fetchIntoCache fetch the given stops and merge results into the cache.
// Returns false if the fetch failed outright. Requested stops which came
// back empty keep their previous cache entry; a transient upstream gap must
// not blank a client's last known departures.
func (e *broadcastEngineImpl) fetchIntoCache(ctxt context.Context, stopIDs []string) bool {
	records, err := e.gateway.Fetch(ctxt, stopIDs)
	if err != nil {
		log.WithError(err).WithFields(e.LogTags).Errorf(
			"Departure fetch for %d stops failed", len(stopIDs),
		)
		return false
	}
	for stopID, departures := range departure.Normalize(records, time.Now()) {
		e.cache.Set(stopID, departures)
	}
	return true
}

// pushBoard send a client its board restricted to its subscribed stops
func (e *broadcastEngineImpl) pushBoard(clientID string, stops []string) error {
	sender := e.senderFor(clientID)
	if sender == nil {
		// Connection already torn down, drop the update
		return nil
	}

	update := make(BoardUpdate, len(stops))
	for _, stopID := range stops {
		if departures, ok := e.cache.Get(stopID); ok {
			update[stopID] = departures
		} else {
			update[stopID] = nil
		}
	}

	if err := sender.SendBoard(update); err != nil {
		// Fire-and-forget: a broken client socket never affects the others
		log.WithError(err).WithFields(e.LogTags).Warnf(
			"Board send to %s failed", clientID,
		)
	}
	return nil
}
