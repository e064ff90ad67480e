/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package operator assembles the daemon: configuration, adapters, registry,
// orchestrator and the observability API.
package operator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/matterminers/tardis/pkg/adapters/batchsystems/slurm"
	"github.com/matterminers/tardis/pkg/adapters/sites/ec2"
	"github.com/matterminers/tardis/pkg/agents"
	"github.com/matterminers/tardis/pkg/config"
	"github.com/matterminers/tardis/pkg/drone"
	tardiserrors "github.com/matterminers/tardis/pkg/errors"
	"github.com/matterminers/tardis/pkg/operator/options"
	"github.com/matterminers/tardis/pkg/orchestrator"
	"github.com/matterminers/tardis/pkg/registry"
	"github.com/matterminers/tardis/pkg/rest"
	"github.com/matterminers/tardis/pkg/rest/security"
	"github.com/matterminers/tardis/pkg/utils/executors"
	"github.com/matterminers/tardis/pkg/utils/log"
)

type Operator struct {
	Config       *config.Configuration
	Registry     *registry.InMemory
	Security     *security.Provider
	Orchestrator *orchestrator.Orchestrator
	Drones       []*drone.Drone

	restServer *rest.Server
}

func New(ctx context.Context, opts *options.Options) (*Operator, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	siteAgent, err := newSiteAgent(ctx, cfg)
	if err != nil {
		return nil, err
	}
	batchSystemAgent, err := newBatchSystemAgent(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.NewInMemory()
	operator := &Operator{
		Config:       cfg,
		Registry:     reg,
		Security:     security.NewProvider(cfg),
		Orchestrator: orchestrator.New(reg, orchestrator.WithPacingInterval(opts.PacingInterval)),
	}
	for range cfg.Site.Drones {
		operator.Drones = append(operator.Drones, drone.New(
			siteAgent,
			batchSystemAgent,
			cfg.Site.MaximumDemand,
			drone.WithAvailabilityInterval(opts.AvailabilityInterval),
		))
	}
	if restAPI, err := cfg.RestAPI(); err == nil {
		operator.restServer = rest.NewServer(restAPI.Address, reg, operator.Security)
	}
	return operator, nil
}

// Start runs the orchestrator and, when configured, the observability API
// until the context is cancelled and all drones have wound down.
func (o *Operator) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if o.restServer != nil {
		g.Go(func() error {
			return o.restServer.ListenAndServe(ctx)
		})
	} else {
		log.FromContext(ctx).Info("rest service not configured, skipping")
	}
	g.Go(func() error {
		return o.Orchestrator.Run(ctx, o.Drones...)
	})
	return g.Wait()
}

func newSiteAgent(ctx context.Context, cfg *config.Configuration) (agents.SiteAgent, error) {
	switch cfg.Site.Adapter {
	case "EC2":
		return ec2.NewSiteAgentFromConfig(ctx, cfg.Site)
	default:
		return nil, tardiserrors.NewConfigError("unknown site adapter %q", cfg.Site.Adapter)
	}
}

func newBatchSystemAgent(cfg *config.Configuration) (agents.BatchSystemAgent, error) {
	switch cfg.BatchSystem.Adapter {
	case "Slurm":
		return slurm.NewAgent(executors.NewShellExecutor(), cfg.BatchSystem), nil
	default:
		return nil, tardiserrors.NewConfigError("unknown batch system adapter %q", cfg.BatchSystem.Adapter)
	}
}
