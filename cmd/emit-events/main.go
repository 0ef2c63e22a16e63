package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/lmsbridge/internal/testevents"
)

const (
	defaultNumEvents    = 1000
	defaultUsers        = 50
	defaultCourses      = 5
	defaultRedeliver    = 0.1
	defaultWorkers      = 2 // multiplier for runtime.NumCPU()
	defaultTimeout      = 30 * time.Second
	defaultDrainTimeout = 2 * time.Minute
	defaultRunTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the bridge")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of events to generate and submit")
		users      = flag.Int("users", defaultUsers, "Demo users the bridge was seeded with")
		courses    = flag.Int("courses", defaultCourses, "Demo courses the bridge was seeded with")
		redeliver  = flag.Float64("redeliver", defaultRedeliver, "Fraction of events posted a second time")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		drain      = flag.Duration("drain", defaultDrainTimeout, "How long to wait for the queue to empty")
		seed       = flag.Uint64("seed", 1, "Generator seed")
		outputFile = flag.String("output", "", "Output file for generated events (default: generated_events_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for the run (default: emit_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp()
		return
	}

	if err := testevents.SetupLogging(*logFile); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &testevents.Config{
		BaseURL:      *baseURL,
		NumEvents:    *numEvents,
		Users:        *users,
		Courses:      *courses,
		Redeliver:    *redeliver,
		Workers:      max(*workers, 1),
		Timeout:      *timeout,
		DrainTimeout: *drain,
		Seed:         *seed,
		OutputFile:   *outputFile,
		LogFile:      *logFile,
		Verbose:      *verbose,
	}

	if err := testevents.Run(ctx, cfg); err != nil {
		_, _ = os.Stderr.WriteString("Run failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}
