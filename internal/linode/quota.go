package linode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linode/linodego"

	"bulkops/internal/config"
	"bulkops/internal/job"
	"bulkops/internal/logging"
)

const bytesPerGB = 1 << 30

// ErrNoQuota is returned for an instance whose effective quota is not positive.
var ErrNoQuota = errors.New("no transfer quota")

// ActiveInstances enumerates instances that are not offline and whose label
// does not start with any of skipPrefixes.
func ActiveInstances(api InstanceAPI, skipPrefixes []string) job.Enumerator[Target] {
	return func(ctx context.Context, emit func(Target) error) error {
		instances, err := listAll(ctx, api)
		if err != nil {
			return err
		}

		logger := logging.FromContext(ctx)
		for _, inst := range instances {
			if hasAnyPrefix(inst.Label, skipPrefixes) {
				logger.V(logging.DEBUG).Info("Skipping instance by label", "linode", inst.ID, "label", inst.Label)
				continue
			}
			if inst.Status == linodego.InstanceOffline {
				logger.V(logging.DEBUG).Info("Skipping offline instance", "linode", inst.ID, "label", inst.Label)
				continue
			}
			if err := emit(Target{ID: inst.ID, Label: inst.Label}); err != nil {
				return err
			}
		}
		return nil
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Usage is the transfer state of one instance.
type Usage struct {
	QuotaGB float64
	UsedGB  float64
}

// Percent returns used transfer as a percentage of quota.
func (u Usage) Percent() float64 {
	return u.UsedGB / u.QuotaGB * 100
}

// QuotaEnforcer shuts down instances that used too much of their transfer
// quota.
type QuotaEnforcer struct {
	api InstanceAPI
	cfg config.QuotaConfig

	// reductionGB is subtracted from every quota; set by Prepare.
	reductionGB int
}

func NewQuotaEnforcer(api InstanceAPI, cfg config.QuotaConfig) *QuotaEnforcer {
	return &QuotaEnforcer{api: api, cfg: cfg}
}

// Prepare reads the account settings once before dispatch. Object Storage
// draws from the pooled transfer, so its share is removed from each quota.
func (e *QuotaEnforcer) Prepare(ctx context.Context) error {
	settings, err := e.api.GetAccountSettings(ctx)
	if err != nil {
		return fmt.Errorf("get account settings: %w", err)
	}

	e.reductionGB = 0
	if settings.ObjectStorage != nil && *settings.ObjectStorage == "active" {
		e.reductionGB = e.cfg.ObjectStorageReductionGB
	}
	logging.FromContext(ctx).Info("Loaded account settings", "objectStorageReductionGB", e.reductionGB)
	return nil
}

// Usage fetches the transfer usage of one instance.
func (e *QuotaEnforcer) Usage(ctx context.Context, id int) (Usage, error) {
	transfer, err := e.api.GetInstanceTransfer(ctx, id)
	if err != nil {
		return Usage{}, fmt.Errorf("get transfer: %w", err)
	}

	quota := transfer.Quota - e.reductionGB
	if quota <= 0 {
		return Usage{}, fmt.Errorf("%w: quota %d GB, reduction %d GB", ErrNoQuota, transfer.Quota, e.reductionGB)
	}
	return Usage{
		QuotaGB: float64(quota),
		UsedGB:  float64(transfer.Used) / bytesPerGB,
	}, nil
}

// Enforce is a job.Operation.
func (e *QuotaEnforcer) Enforce(ctx context.Context, j job.Job[Target]) error {
	logger := logging.FromContext(ctx).WithValues("linode", j.Payload.ID, "label", j.Payload.Label)

	usage, err := e.Usage(ctx, j.Payload.ID)
	if err != nil {
		return fmt.Errorf("linode %d (%s): %w", j.Payload.ID, j.Payload.Label, err)
	}

	pct := usage.Percent()
	logger.V(logging.VERBOSE).Info("Transfer usage", "usedGB", usage.UsedGB, "quotaGB", usage.QuotaGB, "percent", pct)
	if pct < e.cfg.ThresholdPercent {
		return nil
	}

	if e.cfg.DryRun {
		logger.Info("Would shut down instance over transfer threshold", "percent", pct, "threshold", e.cfg.ThresholdPercent)
		return nil
	}
	if err := e.api.ShutdownInstance(ctx, j.Payload.ID); err != nil {
		return fmt.Errorf("shut down linode %d (%s): %w", j.Payload.ID, j.Payload.Label, err)
	}
	logger.Info("Shut down instance over transfer threshold", "percent", pct, "threshold", e.cfg.ThresholdPercent)
	return nil
}
