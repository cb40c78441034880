// Package services holds the long-running pieces behind the HTTP layer:
// the scan coordinator, the job submitter, and the janitor.
package services

import (
	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/eventbus"
	"github.com/krittin/examscan/internal/jobs"
	"github.com/krittin/examscan/internal/logger"
	"github.com/krittin/examscan/internal/presence"
)

// ConnectionPusher delivers one frame to one realtime connection. The
// websocket hub implements it; pushing to a connection that has since
// closed must be a no-op.
type ConnectionPusher interface {
	Push(connID, event string, payload interface{})
}

// Coordinator links the scan-job lifecycle to realtime connections. It
// consumes lifecycle events from the bus, keeps the per-user job
// bookkeeping, and pushes frames to whatever connections the owning
// user holds at delivery time.
type Coordinator struct {
	bus      eventbus.Publisher
	pusher   ConnectionPusher
	presence *presence.Registry
	tracker  *jobs.Tracker
}

func NewCoordinator(bus eventbus.Publisher) *Coordinator {
	return &Coordinator{
		bus:      bus,
		presence: presence.NewRegistry(),
		tracker:  jobs.NewTracker(),
	}
}

// AttachPusher binds the delivery sink. The websocket hub is constructed
// after the coordinator, so the binding happens here rather than in the
// constructor. Must be called before Start.
func (c *Coordinator) AttachPusher(p ConnectionPusher) {
	c.pusher = p
}

// Start subscribes to the job lifecycle events. All three types share
// one subscription so a job's started signal is always handled before
// its completed signal.
func (c *Coordinator) Start() {
	c.bus.Subscribe(c.handleEvent,
		domain.ScanJobStarted,
		domain.ScanJobProgress,
		domain.ScanJobCompleted,
	)
	logger.Infof("Scan coordinator started")
}

func (c *Coordinator) handleEvent(event domain.Event) {
	switch event.EventType {
	case domain.ScanJobStarted:
		c.handleJobStarted(event)
	case domain.ScanJobProgress:
		c.handleJobProgress(event)
	case domain.ScanJobCompleted:
		c.handleJobCompleted(event)
	}
}

func (c *Coordinator) handleJobStarted(event domain.Event) {
	c.tracker.Start(event.UserID, event.JobID)
	c.pushToUser(event.UserID, "scan-started", map[string]interface{}{
		"success": true,
		"job_id":  event.JobID,
	})
}

func (c *Coordinator) handleJobProgress(event domain.Event) {
	data, ok := event.ParseJobProgressData()
	if !ok {
		return
	}
	c.pushToUser(event.UserID, "scan-progress", map[string]interface{}{
		"job_id": event.JobID,
		"stage":  data.Stage,
	})
}

func (c *Coordinator) handleJobCompleted(event domain.Event) {
	data := event.ParseJobCompletedData()

	var payload map[string]interface{}
	if data.Failed() {
		payload = map[string]interface{}{
			"success": false,
			"job_id":  event.JobID,
			"error":   data.Error,
		}
	} else {
		payload = map[string]interface{}{
			"success": true,
			"job_id":  event.JobID,
			"results": data.Results,
		}
	}

	// Push before untracking so a client polling active jobs never sees
	// the job gone while its result frame is still unsent.
	c.pushToUser(event.UserID, "scan-completed", payload)
	c.tracker.Complete(event.UserID, event.JobID)
}

// pushToUser resolves the user's connections at delivery time, so a
// connection opened after the job started still receives its result and
// a user with no open connection drops the frame silently.
func (c *Coordinator) pushToUser(userID, event string, payload interface{}) {
	if c.pusher == nil {
		return
	}
	conns := c.presence.ConnectionsFor(userID)
	if len(conns) == 0 {
		logger.Debugf("No open connection for user %s, dropping %s frame", userID, event)
		return
	}
	for _, connID := range conns {
		c.pusher.Push(connID, event, payload)
	}
}

// Connect binds a realtime connection to its authenticated user.
func (c *Coordinator) Connect(connID, userID string) {
	c.presence.Register(connID, userID)
	logger.Debugf("Connection %s bound to user %s (%d total)", connID, userID, c.presence.Len())
}

// Disconnect releases a connection's binding. Returns the user it was
// bound to, if any.
func (c *Coordinator) Disconnect(connID string) (string, bool) {
	userID, ok := c.presence.UserFor(connID)
	c.presence.Deregister(connID)
	return userID, ok
}

// ActiveJobs returns the ids of the user's in-flight scan jobs.
func (c *Coordinator) ActiveJobs(userID string) []string {
	return c.tracker.ActiveJobs(userID)
}

// IsScanning reports whether the user has a scan job in flight.
func (c *Coordinator) IsScanning(userID string) bool {
	return c.tracker.IsScanning(userID)
}

// ConnectionCount returns the number of bound realtime connections.
func (c *Coordinator) ConnectionCount() int {
	return c.presence.Len()
}
