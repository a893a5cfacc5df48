package linode

import (
	"context"
	"fmt"

	"github.com/linode/linodego"

	"bulkops/internal/config"
	"bulkops/internal/job"
	"bulkops/internal/logging"
)

// Alerts converts the configured thresholds.
func Alerts(c config.AlertConfig) linodego.InstanceAlert {
	return linodego.InstanceAlert{
		CPU:           c.CPU,
		IO:            c.IO,
		NetworkIn:     c.NetworkIn,
		NetworkOut:    c.NetworkOut,
		TransferQuota: c.TransferQuota,
	}
}

func alertsMatch(have *linodego.InstanceAlert, want linodego.InstanceAlert) bool {
	if have == nil {
		return false
	}
	return have.CPU == want.CPU &&
		have.IO == want.IO &&
		have.NetworkIn == want.NetworkIn &&
		have.NetworkOut == want.NetworkOut &&
		have.TransferQuota == want.TransferQuota
}

// listAll fetches every instance. Page 0 makes linodego walk all pages.
func listAll(ctx context.Context, api InstanceAPI) ([]linodego.Instance, error) {
	instances, err := api.ListInstances(ctx, linodego.NewListOptions(0, ""))
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// StaleAlerts enumerates instances whose alert thresholds differ from want.
func StaleAlerts(api InstanceAPI, want linodego.InstanceAlert) job.Enumerator[Target] {
	return func(ctx context.Context, emit func(Target) error) error {
		instances, err := listAll(ctx, api)
		if err != nil {
			return err
		}

		logger := logging.FromContext(ctx)
		stale := 0
		for _, inst := range instances {
			if alertsMatch(inst.Alerts, want) {
				continue
			}
			stale++
			if err := emit(Target{ID: inst.ID, Label: inst.Label}); err != nil {
				return err
			}
		}
		if stale == 0 {
			logger.Info("All instances already use the configured alert thresholds", "instances", len(instances))
		}
		return nil
	}
}

// AlertUpdater sets the alert thresholds of one instance per job.
type AlertUpdater struct {
	api  InstanceAPI
	want linodego.InstanceAlert
}

func NewAlertUpdater(api InstanceAPI, want linodego.InstanceAlert) *AlertUpdater {
	return &AlertUpdater{api: api, want: want}
}

// Apply is a job.Operation.
func (u *AlertUpdater) Apply(ctx context.Context, j job.Job[Target]) error {
	alerts := u.want
	if _, err := u.api.UpdateInstance(ctx, j.Payload.ID, linodego.InstanceUpdateOptions{Alerts: &alerts}); err != nil {
		return fmt.Errorf("update alerts for linode %d (%s): %w", j.Payload.ID, j.Payload.Label, err)
	}
	logging.FromContext(ctx).V(logging.VERBOSE).Info("Updated alert thresholds", "linode", j.Payload.ID, "label", j.Payload.Label)
	return nil
}
