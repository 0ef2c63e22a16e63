package testevents

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/lmsbridge/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging sends log output to both the console and a file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	if logFile == "" {
		logFile = "emit_log_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.InitWith(io.MultiWriter(os.Stdout, file), logger.FormatText); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the emitter.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`LMS Bridge Event Emitter
========================

Generates domain events of every kind against the bridge's demo directory,
posts them concurrently to /events and waits for the durable queue to drain.

Usage:
  go run ./cmd/emit-events [options]

Options:
  -url string
        Base URL of the bridge (default "http://localhost:9080")
  -events int
        Number of events to generate and submit (default 1000)
  -users int
        Demo users the bridge was seeded with (default 50)
  -courses int
        Demo courses the bridge was seeded with (default 5)
  -redeliver float
        Fraction of events posted a second time (default 0.1)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -drain duration
        How long to wait for the queue to empty (default 2m)
  -seed uint
        Generator seed (default 1)
  -output string
        Output file for generated events (default: generated_events_TIMESTAMP.json)
  -log string
        Log file for the run (default: emit_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Run against a local bridge with a webhook receiver configured
  go run ./cmd/emit-events

  # Larger run without redelivery
  go run ./cmd/emit-events -events 20000 -redeliver 0 -workers 16
`)
}
