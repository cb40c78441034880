package domain

import (
	"encoding/json"
	"time"
)

// EventType names a signal on the event bus. The set is closed: the
// coordinator, metrics, and notifier switch over these constants.
type EventType string

const (
	ScanJobStarted   EventType = "ScanJobStarted"
	ScanJobProgress  EventType = "ScanJobProgress"
	ScanJobCompleted EventType = "ScanJobCompleted"
)

// Event is the envelope published on the event bus. UserID and JobID
// identify the owning user and the scan job; EventData carries the
// signal-specific payload.
type Event struct {
	ID        int64                  `json:"id"`
	EventType EventType              `json:"event_type"`
	UserID    string                 `json:"user_id"`
	JobID     string                 `json:"job_id"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// GetString safely extracts a string field from EventData.
func (e *Event) GetString(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key].(string)
	return v, ok
}

// GetStringOr extracts a string field or returns the default value.
func (e *Event) GetStringOr(key, defaultVal string) string {
	if v, ok := e.GetString(key); ok {
		return v
	}
	return defaultVal
}

// GetInt safely extracts an int field from EventData. Handles int, int64
// and float64 (JSON unmarshaling produces float64).
func (e *Event) GetInt(key string) (int, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// =============================================================================
// Typed event payloads
// =============================================================================

// JobProgressData is the payload of ScanJobProgress events.
type JobProgressData struct {
	Stage string `json:"stage"` // "uploading", "analyzing", "persisting"
}

// NewJobProgressEvent builds a ScanJobProgress event.
func NewJobProgressEvent(userID, jobID, stage string) Event {
	return Event{
		EventType: ScanJobProgress,
		UserID:    userID,
		JobID:     jobID,
		EventData: map[string]interface{}{"stage": stage},
	}
}

// ParseJobProgressData extracts typed progress data from an event.
func (e *Event) ParseJobProgressData() (JobProgressData, bool) {
	stage, ok := e.GetString("stage")
	if !ok {
		return JobProgressData{}, false
	}
	return JobProgressData{Stage: stage}, true
}

// JobCompletedData is the payload of ScanJobCompleted events. Error is
// empty on success; on failure Results is nil and Error carries the
// user-visible message.
type JobCompletedData struct {
	Results []ScannedAnswer `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewJobStartedEvent builds a ScanJobStarted event.
func NewJobStartedEvent(userID, jobID string) Event {
	return Event{
		EventType: ScanJobStarted,
		UserID:    userID,
		JobID:     jobID,
	}
}

// NewJobCompletedEvent builds a successful ScanJobCompleted event.
func NewJobCompletedEvent(userID, jobID string, results []ScannedAnswer) Event {
	return Event{
		EventType: ScanJobCompleted,
		UserID:    userID,
		JobID:     jobID,
		EventData: map[string]interface{}{"results": results},
	}
}

// NewJobFailedEvent builds a ScanJobCompleted event carrying an error
// indicator instead of results.
func NewJobFailedEvent(userID, jobID, errMsg string) Event {
	return Event{
		EventType: ScanJobCompleted,
		UserID:    userID,
		JobID:     jobID,
		EventData: map[string]interface{}{"error": errMsg},
	}
}

// ParseJobCompletedData extracts typed completion data from an event.
// It handles both the in-memory publish path (results held as
// []ScannedAnswer) and events reloaded from storage (results held as
// []interface{} after JSON unmarshaling).
func (e *Event) ParseJobCompletedData() JobCompletedData {
	var data JobCompletedData
	data.Error = e.GetStringOr("error", "")

	if e.EventData == nil {
		return data
	}

	switch v := e.EventData["results"].(type) {
	case []ScannedAnswer:
		data.Results = v
	case nil:
		// Failure payloads have no results.
	default:
		// Round-trip through JSON for values decoded from storage.
		raw, err := json.Marshal(v)
		if err != nil {
			return data
		}
		var results []ScannedAnswer
		if err := json.Unmarshal(raw, &results); err != nil {
			return data
		}
		data.Results = results
	}

	return data
}

// Failed reports whether a completion payload carries an error indicator.
func (d JobCompletedData) Failed() bool {
	return d.Error != ""
}
