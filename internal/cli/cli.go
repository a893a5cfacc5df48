// Package cli holds the setup and teardown every bulkops command shares.
package cli

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/go-logr/logr"

	"bulkops/internal/config"
	"bulkops/internal/dispatcher"
	"bulkops/internal/failures"
	"bulkops/internal/logging"
	"bulkops/internal/metrics"
	"bulkops/internal/shutdown"
)

// Env is what a command needs once flags and config are loaded.
type Env struct {
	Name   string
	Ctx    context.Context
	Config *config.Config
	Logger logr.Logger

	cleanup []func()
}

// Setup parses the common flags, loads the config and installs the signal
// handler. Commands register their own flags before calling it. It exits the
// process on bad input.
func Setup(name string) *Env {
	return SetupWithDefaults(name, config.DefaultDispatch)
}

// SetupWithDefaults is Setup for a command whose dispatch settings default
// to something other than config.DefaultDispatch.
func SetupWithDefaults(name string, def config.Dispatch) *Env {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "path to the YAML config file")
	verbosity := flag.Int("v", 0, "log verbosity (0-3)")
	dev := flag.Bool("dev", false, "human-readable logs")
	flag.Parse()

	logger := logging.New(*verbosity)
	if *dev {
		logger = logging.NewDevelopment(*verbosity)
	}
	logger = logger.WithName(name)

	if *configPath == "" {
		logger.Info("No config file given, set --config or " + config.EnvConfigPath)
		os.Exit(2)
	}
	cfg, err := config.LoadWithDefaults(*configPath, def)
	if err != nil {
		logging.Fatal(logger, err, "Failed to load config", "path", *configPath)
	}

	// I want Ctrl+C to stop the run but still drain the queue
	ctx, cancel := context.WithCancel(logging.IntoContext(context.Background(), logger))
	stop := shutdown.Listen(ctx, cancel)

	env := &Env{
		Name:    name,
		Ctx:     ctx,
		Config:  cfg,
		Logger:  logger,
		cleanup: []func(){stop, cancel},
	}
	env.serveMetrics()
	return env
}

func (e *Env) serveMetrics() {
	addr := e.Config.Metrics.Addr
	if addr == "" {
		return
	}
	metrics.Register()

	errc := make(chan error, 1)
	server := metrics.Serve(addr, errc)
	go func() {
		if err := <-errc; err != nil {
			e.Logger.Error(err, "Metrics server stopped", "addr", addr)
		}
	}()
	e.Logger.Info("Serving metrics", "addr", addr)

	e.cleanup = append(e.cleanup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
}

// Close releases the signal handler and the metrics server.
func (e *Env) Close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

// Fatal logs err, cleans up and exits with status 1.
func (e *Env) Fatal(err error, msg string, keysAndValues ...any) {
	e.Close()
	logging.Fatal(e.Logger, err, msg, keysAndValues...)
}

// Finish logs the outcome of a run and returns the process exit code: 0 only
// when the run completed and no job failed.
func Finish[T any](e *Env, summary dispatcher.Summary, runErr error, collector *failures.Collector[T]) int {
	code := 0
	if runErr != nil {
		e.Logger.Error(runErr, "Run did not complete",
			"dispatched", summary.Dispatched, "skipped", summary.Skipped)
		code = 1
	}
	if collector != nil {
		for _, f := range collector.Failures() {
			e.Logger.Info("Failed", "job", f.Job.ID, "payload", f.Job.Payload, "error", f.Err.Error())
		}
		if err := collector.Err(); err != nil {
			e.Logger.Error(err, "Some jobs failed", "failed", collector.Len())
			code = 1
		}
	}

	e.Logger.Info("== Final Stats ==",
		"dispatched", summary.Dispatched,
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed", summary.Elapsed.String())
	return code
}
