// Command objupload copies a local directory tree into a Linode Object
// Storage bucket, one rate-limited PutObject per file.
package main

import (
	"os"

	"bulkops/internal/cli"
	"bulkops/internal/config"
	"bulkops/internal/dispatcher"
	"bulkops/internal/failures"
	"bulkops/internal/objstore"
	"bulkops/internal/worker"
)

func main() {
	env := cli.Setup("objupload")
	obj := env.Config.ObjectStorage
	if err := obj.Validate(); err != nil {
		env.Fatal(err, "Invalid config")
	}
	if err := objstore.CheckSource(obj.SourceDir); err != nil {
		env.Fatal(err, "Nothing to upload")
	}

	accessKey, err := config.RequireEnv(config.EnvObjAccessKey)
	if err != nil {
		env.Fatal(err, "Missing credentials")
	}
	secretKey, err := config.RequireEnv(config.EnvObjSecretKey)
	if err != nil {
		env.Fatal(err, "Missing credentials")
	}

	client := objstore.NewClient(obj.EndpointURL(), obj.Cluster, accessKey, secretKey)
	uploader := objstore.NewUploader(client, obj.Bucket, obj.ACL)
	env.Logger.Info("Uploading", "source", obj.SourceDir, "bucket", obj.Bucket, "prefix", obj.KeyPrefix)

	collector := &failures.Collector[objstore.Upload]{}
	summary, err := dispatcher.Run(env.Ctx, env.Config.Dispatch.DispatcherConfig(),
		uploader.Upload, objstore.Walk(obj.SourceDir, obj.KeyPrefix),
		worker.Options[objstore.Upload]{Name: env.Name, FailureSink: collector.Sink()})

	code := cli.Finish(env, summary, err, collector)
	env.Close()
	os.Exit(code)
}
