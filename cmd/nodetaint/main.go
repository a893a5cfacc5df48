// Command nodetaint taints and labels every node of an LKE node pool.
package main

import (
	"os"

	"bulkops/internal/cli"
	"bulkops/internal/dispatcher"
	"bulkops/internal/failures"
	"bulkops/internal/kube"
	"bulkops/internal/worker"
)

func main() {
	env := cli.Setup("nodetaint")
	kc := env.Config.Kubernetes
	if err := kc.Validate(); err != nil {
		env.Fatal(err, "Invalid config")
	}

	clientset, err := kube.NewClientset(kc.Kubeconfig)
	if err != nil {
		env.Fatal(err, "Failed to build Kubernetes client")
	}

	marker := kube.NewMarker(clientset)
	if kc.Taint != "" {
		taint, err := kube.ParseTaint(kc.Taint)
		if err != nil {
			env.Fatal(err, "Invalid taint")
		}
		marker.Taint = &taint
	}
	if kc.Label != "" {
		marker.LabelKey, marker.LabelValue, err = kube.ParseLabel(kc.Label)
		if err != nil {
			env.Fatal(err, "Invalid label")
		}
	}

	collector := &failures.Collector[string]{}
	summary, err := dispatcher.Run(env.Ctx, env.Config.Dispatch.DispatcherConfig(),
		marker.Mark, kube.PoolNodes(clientset, kc.PoolID),
		worker.Options[string]{Name: env.Name, FailureSink: collector.Sink()})

	code := cli.Finish(env, summary, err, collector)
	env.Close()
	os.Exit(code)
}
