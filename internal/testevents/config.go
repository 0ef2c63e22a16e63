package testevents

import "time"

// Config holds configuration for the event emitter.
type Config struct {
	BaseURL      string        // Base URL of the bridge
	NumEvents    int           // Number of events to generate
	Users        int           // Demo users the bridge was seeded with
	Courses      int           // Demo courses the bridge was seeded with
	Redeliver    float64       // Fraction of events sent twice
	Workers      int           // Number of concurrent workers
	Timeout      time.Duration // HTTP request timeout
	DrainTimeout time.Duration // How long to wait for the queue to empty
	Seed         uint64        // Generator seed; equal seeds give equal events
	OutputFile   string        // Output file for events
	LogFile      string        // Log file for test output
	Verbose      bool          // Enable verbose logging
}

// AckResponse is the bridge's answer to POST /events.
type AckResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Submission outcomes as counted by the emitter.
const (
	resultEnqueued  = "enqueued"
	resultDuplicate = "duplicate"
	resultDiscarded = "discarded"
	resultRejected  = "rejected"
	resultFailed    = "failed"
)

// Stats holds run statistics.
type Stats struct {
	EventsGenerated int
	EventsSubmitted int
	EventsEnqueued  int
	EventsDuplicate int
	EventsDiscarded int
	EventsRejected  int
	EventsFailed    int
	QueueDrained    bool
	QueueRemaining  int
	FailureRecords  int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
