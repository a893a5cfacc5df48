package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bulkops/internal/logging"
)

// Listen cancels the run on SIGINT or SIGTERM. Workers then drain what is
// left in the queue without executing it. The returned stop func releases the
// signal handler.
func Listen(ctx context.Context, cancel context.CancelFunc) (stop func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-c:
			logging.FromContext(ctx).Info("Caught signal, gracefully stopping", "signal", sig.String())
			cancel()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(c)
		close(done)
	}
}
