// Package linode holds the bulk operations run against Linode instances:
// alert threshold sync and transfer-quota shutdown.
package linode

import (
	"context"
	"net/http"
	"time"

	"github.com/linode/linodego"
	"golang.org/x/oauth2"

	"bulkops/internal/config"
)

// DefaultDispatch paces one API call per job at the account budget of 800
// requests per two minutes. The instance listing before dispatch is a single
// paged request and is not gated.
var DefaultDispatch = config.Dispatch{
	Workers: 4,
	Rate:    800,
	Period:  config.Duration{Duration: 2 * time.Minute},
}

// QuotaDispatch is DefaultDispatch for jobs that may make two calls: the
// transfer lookup and the shutdown.
var QuotaDispatch = config.Dispatch{
	Workers: 4,
	Rate:    400,
	Period:  config.Duration{Duration: 2 * time.Minute},
}

// InstanceAPI is the part of *linodego.Client used here.
type InstanceAPI interface {
	ListInstances(ctx context.Context, opts *linodego.ListOptions) ([]linodego.Instance, error)
	UpdateInstance(ctx context.Context, linodeID int, opts linodego.InstanceUpdateOptions) (*linodego.Instance, error)
	GetInstanceTransfer(ctx context.Context, linodeID int) (*linodego.InstanceTransfer, error)
	ShutdownInstance(ctx context.Context, linodeID int) error
	GetAccountSettings(ctx context.Context) (*linodego.AccountSettings, error)
}

var _ InstanceAPI = (*linodego.Client)(nil)

// Target identifies the instance a job acts on.
type Target struct {
	ID    int
	Label string
}

// NewClient returns an API client authenticating with a personal access
// token. baseURL may be empty for the public API.
func NewClient(token, baseURL string) *linodego.Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := &http.Client{
		Transport: &oauth2.Transport{Source: tokenSource},
	}

	client := linodego.NewClient(hc)
	client.SetUserAgent("bulkops")
	if baseURL != "" {
		client.SetBaseURL(baseURL)
	}
	return &client
}
