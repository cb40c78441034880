// Package eventbus carries the scan-job lifecycle signals between the
// HTTP-facing submitter and the realtime-facing coordinator. Events are
// appended to the database before in-memory dispatch, so the signal
// stream survives as an audit trail even though delivery itself is
// best-effort.
package eventbus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/logger"
	"github.com/krittin/examscan/internal/store"
)

// Publisher defines the interface for publishing events.
// This interface enables testing with mock implementations.
type Publisher interface {
	Publish(event domain.Event) error
	Subscribe(handler func(domain.Event), types ...domain.EventType)
}

// Ensure EventBus implements Publisher
var _ Publisher = (*EventBus)(nil)

type EventBus struct {
	db          *sql.DB
	subscribers map[domain.EventType][]chan domain.Event
	mu          sync.RWMutex
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

func NewEventBus(db *sql.DB) *EventBus {
	return &EventBus{
		db:          db,
		subscribers: make(map[domain.EventType][]chan domain.Event),
		stopChan:    make(chan struct{}),
	}
}

func (eb *EventBus) Publish(event domain.Event) error {
	logger.Debugf("EventBus: publishing %s (user: %s, job: %s)", event.EventType, event.UserID, event.JobID)

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC() // UTC for consistent SQLite date parsing
	}

	// 1. Append to the event log (source of truth).
	var eventDataJSON []byte
	if event.EventData != nil {
		var err error
		eventDataJSON, err = json.Marshal(event.EventData)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	res, err := store.ExecWithRetry(eb.db, `
        INSERT INTO events (event_type, user_id, job_id, event_data, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, event.EventType, event.UserID, event.JobID, eventDataJSON, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	// 2. Publish to in-memory subscribers.
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.EventType] {
		select {
		case ch <- event:
		default:
			// Non-blocking, drop if buffer full to prevent blocking the publisher
		}
	}

	return nil
}

// Subscribe registers handler for the given event types. All types of one
// subscription share a single channel and goroutine, so a subscriber
// observes events in publish order across its types and handles each
// signal atomically with respect to the others.
func (eb *EventBus) Subscribe(handler func(domain.Event), types ...domain.EventType) {
	ch := make(chan domain.Event, 100)

	eb.mu.Lock()
	for _, t := range types {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}
	eb.mu.Unlock()

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				handler(event)
			case <-eb.stopChan:
				return
			}
		}
	}()
}

// Shutdown stops all subscriber goroutines and waits for them to finish
func (eb *EventBus) Shutdown() {
	close(eb.stopChan)
	eb.wg.Wait()
	logger.Infof("EventBus shutdown complete")
}
