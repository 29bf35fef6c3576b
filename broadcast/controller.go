package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/depboard/depboard/common"
	"github.com/depboard/depboard/subscription"
)

// Controller drives connection lifecycle: it records subscriptions, serves
// newly opened connections an immediate board, and owns the process-wide
// refresh timer. The timer runs if and only if at least one client holds a
// subscription.
type Controller interface {
	// ClientOpened register a new connection and serve it an immediate board
	ClientOpened(ctxt context.Context, clientID string, stopIDs []string, sender Sender) error
	// ClientResubscribed replace the stop list of an open connection. The
	// new list takes effect on the next refresh cycle.
	ClientResubscribed(clientID string, stopIDs []string) error
	// ClientClosed tear down all state of a closed connection
	ClientClosed(clientID string) error
}

// connectionControllerImpl implements Controller
type connectionControllerImpl struct {
	common.Component
	engine          Engine
	registry        subscription.Registry
	refreshInterval time.Duration
	rootContext     context.Context
	wg              *sync.WaitGroup
	mu              sync.Mutex
	refreshTimer    common.IntervalTimer
}

// GetConnectionControllerInstance create new connection controller instance
func GetConnectionControllerInstance(
	rootCtxt context.Context,
	engine Engine,
	registry subscription.Registry,
	refreshInterval time.Duration,
	wg *sync.WaitGroup,
) (Controller, error) {
	logTags := log.Fields{
		"module": "broadcast", "component": "connection-controller",
	}
	return &connectionControllerImpl{
		Component:       common.Component{LogTags: logTags},
		engine:          engine,
		registry:        registry,
		refreshInterval: refreshInterval,
		rootContext:     rootCtxt,
		wg:              wg,
		refreshTimer:    nil,
	}, nil
}

// ClientOpened register a new connection and serve it an immediate board.
// The first open also starts the refresh timer; the state transition is
// guarded so a concurrent open can never start a second timer.
func (c *connectionControllerImpl) ClientOpened(
	ctxt context.Context, clientID string, stopIDs []string, sender Sender,
) error {
	c.mu.Lock()
	c.registry.Set(clientID, stopIDs)
	c.engine.RegisterSender(clientID, sender)
	if err := c.startTimerIfNeeded(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	log.WithFields(c.LogTags).Infof("Client %s connected watching %d stops", clientID, len(stopIDs))

	// Serve the new client without waiting for the next cycle. The fetch
	// happens outside the lock so other connection events keep flowing
	// while it is pending.
	if err := c.engine.RefreshClient(ctxt, clientID); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Initial refresh for %s failed", clientID,
		)
	}
	return nil
}

// ClientResubscribed replace the stop list of an open connection
func (c *connectionControllerImpl) ClientResubscribed(clientID string, stopIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Set(clientID, stopIDs)
	log.WithFields(c.LogTags).Infof("Client %s now watching %d stops", clientID, len(stopIDs))
	return nil
}

// ClientClosed tear down all state of a closed connection. When the last
// client leaves, the refresh timer is stopped and cleared; a later new
// connection gets a fresh timer.
func (c *connectionControllerImpl) ClientClosed(clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Remove(clientID)
	c.engine.ClearSender(clientID)
	log.WithFields(c.LogTags).Infof("Client %s disconnected", clientID)
	if c.registry.ActiveClients() == 0 && c.refreshTimer != nil {
		if err := c.refreshTimer.Stop(); err != nil {
			log.WithError(err).WithFields(c.LogTags).Error("Unable to stop refresh timer")
		}
		c.refreshTimer = nil
		log.WithFields(c.LogTags).Info("Last client left, refresh timer stopped")
	}
	return nil
}

// startTimerIfNeeded start the refresh timer unless already running.
// Caller must hold c.mu.
func (c *connectionControllerImpl) startTimerIfNeeded() error {
	if c.refreshTimer != nil {
		return nil
	}
	timer, err := common.GetIntervalTimerInstance("board-refresh", c.rootContext, c.wg)
	if err != nil {
		return err
	}
	if err := timer.Start(c.refreshInterval, func() error {
		return c.engine.RefreshAll(c.rootContext)
	}); err != nil {
		return err
	}
	c.refreshTimer = timer
	return nil
}
