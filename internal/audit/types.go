package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Run lifecycle events
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	// Pipeline stage events
	EventInputLoaded       EventType = "input.loaded"
	EventFeaturesBuilt     EventType = "features.built"
	EventDetectorCompleted EventType = "detector.completed"
	EventDetectorSkipped   EventType = "detector.skipped"

	// Output events
	EventExportWritten   EventType = "export.written"
	EventReportPersisted EventType = "report.persisted"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited step
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultSkipped Result = "skipped"
)

// Event represents a single entry in the run journal
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	EventType EventType `json:"event_type"`
	Result    Result    `json:"result"`

	// Detector names the detector for detector.* events
	Detector string `json:"detector,omitempty"`

	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Error string `json:"error,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]interface{}),
	}
}

// WithRunID ties the event to an analysis run
func (e *Event) WithRunID(id string) *Event {
	e.RunID = id
	return e
}

// WithDetector names the detector the event concerns
func (e *Event) WithDetector(name string) *Event {
	e.Detector = name
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information and marks the event failed
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
