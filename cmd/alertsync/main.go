// Command alertsync sets the same alert thresholds on every Linode instance
// of the account. Instances already matching are left alone.
package main

import (
	"os"

	"bulkops/internal/cli"
	"bulkops/internal/config"
	"bulkops/internal/dispatcher"
	"bulkops/internal/failures"
	"bulkops/internal/linode"
	"bulkops/internal/worker"
)

func main() {
	env := cli.SetupWithDefaults("alertsync", linode.DefaultDispatch)

	token, err := config.RequireEnv(config.EnvLinodeToken)
	if err != nil {
		env.Fatal(err, "Missing credentials")
	}
	client := linode.NewClient(token, env.Config.Linode.BaseURL)

	want := linode.Alerts(env.Config.Linode.Alerts)
	env.Logger.Info("Syncing alert thresholds", "alerts", want)

	collector := &failures.Collector[linode.Target]{}
	summary, err := dispatcher.Run(env.Ctx, env.Config.Dispatch.DispatcherConfig(),
		linode.NewAlertUpdater(client, want).Apply, linode.StaleAlerts(client, want),
		worker.Options[linode.Target]{Name: env.Name, FailureSink: collector.Sink()})

	code := cli.Finish(env, summary, err, collector)
	env.Close()
	os.Exit(code)
}
