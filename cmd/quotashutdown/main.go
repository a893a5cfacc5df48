// Command quotashutdown powers off instances that used more than a
// threshold of their monthly network transfer quota.
package main

import (
	"flag"
	"os"

	"bulkops/internal/cli"
	"bulkops/internal/config"
	"bulkops/internal/dispatcher"
	"bulkops/internal/failures"
	"bulkops/internal/linode"
	"bulkops/internal/worker"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "log the instances that would be shut down without touching them")
	env := cli.SetupWithDefaults("quotashutdown", linode.QuotaDispatch)

	quota := env.Config.Linode.Quota
	if *dryRun {
		quota.DryRun = true
	}

	token, err := config.RequireEnv(config.EnvLinodeToken)
	if err != nil {
		env.Fatal(err, "Missing credentials")
	}
	client := linode.NewClient(token, env.Config.Linode.BaseURL)

	enforcer := linode.NewQuotaEnforcer(client, quota)
	if err := enforcer.Prepare(env.Ctx); err != nil {
		env.Fatal(err, "Failed to read account settings")
	}
	env.Logger.Info("Checking transfer usage", "threshold", quota.ThresholdPercent, "dryRun", quota.DryRun)

	collector := &failures.Collector[linode.Target]{}
	summary, err := dispatcher.Run(env.Ctx, env.Config.Dispatch.DispatcherConfig(),
		enforcer.Enforce, linode.ActiveInstances(client, quota.SkipLabelPrefixes),
		worker.Options[linode.Target]{Name: env.Name, FailureSink: collector.Sink()})

	code := cli.Finish(env, summary, err, collector)
	env.Close()
	os.Exit(code)
}
