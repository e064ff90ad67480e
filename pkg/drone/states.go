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

package drone

import (
	"context"
	"fmt"

	"github.com/matterminers/tardis/pkg/agents"
	tardiserrors "github.com/matterminers/tardis/pkg/errors"
	"github.com/matterminers/tardis/pkg/utils/log"
)

const (
	RequestStateName      = "Request"
	BootingStateName      = "Booting"
	IntegrateStateName    = "Integrate"
	IntegratingStateName  = "Integrating"
	AvailableStateName    = "Available"
	DrainStateName        = "Drain"
	DrainingStateName     = "Draining"
	DisintegrateStateName = "Disintegrate"
	ShutDownStateName     = "ShutDown"
	ShuttingDownStateName = "ShuttingDown"
	CleanupStateName      = "Cleanup"
	DownStateName         = "Down"
)

// State is one variant of the drone lifecycle. Run performs at most one
// externally observable round-trip (or sleep) against the drone's agents
// and returns exactly one successor; returning the same variant means "stay
// in this state, run again next tick". Run bodies absorb only AuthError and
// Timeout, and only where their transition table self-loops; every other
// error propagates to the orchestrator, which records a fatal transition
// and triggers cleanup.
type State interface {
	Name() string
	Run(ctx context.Context, d *Drone) (State, error)
}

// IsTerminal reports whether the state ends the drone's lifecycle.
func IsTerminal(s State) bool {
	return s.Name() == DownStateName
}

// RequestState deploys the resource. AuthError and Timeout are fatal here:
// the resource never existed and must not leak, so the drone goes straight
// to Down without a cleanup pass.
type RequestState struct{}

func (RequestState) Name() string { return RequestStateName }

func (RequestState) Run(ctx context.Context, d *Drone) (State, error) {
	attributes, err := d.siteAgent.DeployResource(ctx, d.uniqueID)
	if err != nil {
		if tardiserrors.IsRetryable(err) {
			log.FromContext(ctx).Error(err, "resource deployment rejected")
			return DownState{}, nil
		}
		return nil, err
	}
	d.MergeResourceAttributes(attributes)
	return BootingState{}, nil
}

// BootingState polls the site until the resource reports Running.
type BootingState struct{}

func (BootingState) Name() string { return BootingStateName }

func (BootingState) Run(ctx context.Context, d *Drone) (State, error) {
	attributes, err := d.siteAgent.ResourceStatus(ctx, d.ResourceAttributes())
	if err != nil {
		if tardiserrors.IsRetryable(err) {
			log.FromContext(ctx).V(1).Info("retrying resource status query", "reason", err.Error())
			return BootingState{}, nil
		}
		return nil, err
	}
	d.MergeResourceAttributes(attributes)
	next, ok := bootingTransitions[attributes.ResourceStatus]
	if !ok {
		return nil, fmt.Errorf("unexpected resource status %q while booting", attributes.ResourceStatus)
	}
	return next, nil
}

// IntegrateState adds the machine to the batch system.
type IntegrateState struct{}

func (IntegrateState) Name() string { return IntegrateStateName }

func (IntegrateState) Run(ctx context.Context, d *Drone) (State, error) {
	if err := d.batchSystemAgent.IntegrateMachine(ctx, d.ResourceAttributes().DNSName); err != nil {
		return nil, err
	}
	return IntegratingState{}, nil
}

// IntegratingState polls the batch system until the machine is available.
type IntegratingState struct{}

func (IntegratingState) Name() string { return IntegratingStateName }

func (IntegratingState) Run(ctx context.Context, d *Drone) (State, error) {
	status, err := d.batchSystemAgent.GetMachineStatus(ctx, d.ResourceAttributes().DNSName)
	if err != nil {
		if tardiserrors.IsRetryable(err) {
			log.FromContext(ctx).V(1).Info("retrying machine status query", "reason", err.Error())
			return IntegratingState{}, nil
		}
		return nil, err
	}
	next, ok := integratingTransitions[status]
	if !ok {
		return nil, fmt.Errorf("unexpected machine status %q while integrating", status)
	}
	return next, nil
}

// AvailableState is the serving loop: sleep for the availability interval,
// then re-decide. The demand check strictly precedes the availability
// check, so an upstream demand drop drains cleanly even on an unhealthy
// node.
type AvailableState struct{}

func (AvailableState) Name() string { return AvailableStateName }

func (AvailableState) Run(ctx context.Context, d *Drone) (State, error) {
	completed, err := d.sleep(ctx)
	if err != nil {
		return nil, err
	}
	if !completed {
		// Cancellation woke the sleep; the orchestrator reroutes.
		return AvailableState{}, nil
	}

	status, err := d.batchSystemAgent.GetMachineStatus(ctx, d.ResourceAttributes().DNSName)
	if err != nil {
		if tardiserrors.IsRetryable(err) {
			log.FromContext(ctx).V(1).Info("retrying machine status query", "reason", err.Error())
			return AvailableState{}, nil
		}
		return nil, err
	}

	if d.Demand() == 0 {
		return DrainState{}, nil
	}
	if status == agents.MachineStatusNotAvailable {
		return ShutDownState{}, nil
	}

	dnsName := d.ResourceAttributes().DNSName
	allocation, err := d.batchSystemAgent.GetAllocation(ctx, dnsName)
	if err != nil {
		return nil, err
	}
	utilisation, err := d.batchSystemAgent.GetUtilisation(ctx, dnsName)
	if err != nil {
		return nil, err
	}
	d.setUsage(allocation, utilisation)
	d.setSupply(d.MaximumDemand())
	return AvailableState{}, nil
}

// DrainState asks the batch system to flush workload off the machine.
type DrainState struct{}

func (DrainState) Name() string { return DrainStateName }

func (DrainState) Run(ctx context.Context, d *Drone) (State, error) {
	if err := d.batchSystemAgent.DrainMachine(ctx, d.ResourceAttributes().DNSName); err != nil {
		return nil, err
	}
	return DrainingState{}, nil
}

// DrainingState polls the batch system until the machine reports Drained.
type DrainingState struct{}

func (DrainingState) Name() string { return DrainingStateName }

func (DrainingState) Run(ctx context.Context, d *Drone) (State, error) {
	status, err := d.batchSystemAgent.GetMachineStatus(ctx, d.ResourceAttributes().DNSName)
	if err != nil {
		if tardiserrors.IsRetryable(err) {
			log.FromContext(ctx).V(1).Info("retrying machine status query", "reason", err.Error())
			return DrainingState{}, nil
		}
		return nil, err
	}
	next, ok := drainingTransitions[status]
	if !ok {
		return nil, fmt.Errorf("unexpected machine status %q while draining", status)
	}
	return next, nil
}

// DisintegrateState marks the hand-off from the batch system back to the
// site; the batch-system side is already drained, so no round-trip is
// needed.
type DisintegrateState struct{}

func (DisintegrateState) Name() string { return DisintegrateStateName }

func (DisintegrateState) Run(ctx context.Context, d *Drone) (State, error) {
	return ShutDownState{}, nil
}

// ShutDownState requests a graceful shutdown of the resource.
type ShutDownState struct{}

func (ShutDownState) Name() string { return ShutDownStateName }

func (ShutDownState) Run(ctx context.Context, d *Drone) (State, error) {
	attributes := d.ResourceAttributes()
	log.FromContext(ctx).Info("stopping resource", "resource-id", attributes.ResourceID)
	if err := d.siteAgent.StopResource(ctx, attributes); err != nil {
		return nil, err
	}
	return ShuttingDownState{}, nil
}

// ShuttingDownState polls the site until the resource reports Stopped.
type ShuttingDownState struct{}

func (ShuttingDownState) Name() string { return ShuttingDownStateName }

func (ShuttingDownState) Run(ctx context.Context, d *Drone) (State, error) {
	attributes, err := d.siteAgent.ResourceStatus(ctx, d.ResourceAttributes())
	if err != nil {
		if tardiserrors.IsRetryable(err) {
			log.FromContext(ctx).V(1).Info("retrying resource status query", "reason", err.Error())
			return ShuttingDownState{}, nil
		}
		return nil, err
	}
	d.MergeResourceAttributes(attributes)
	if attributes.ResourceStatus == agents.ResourceStatusBooting {
		log.FromContext(ctx).Info("inconsistent resource status while shutting down", "resource-status", attributes.ResourceStatus)
	}
	next, ok := shuttingDownTransitions[attributes.ResourceStatus]
	if !ok {
		return nil, fmt.Errorf("unexpected resource status %q while shutting down", attributes.ResourceStatus)
	}
	return next, nil
}

// CleanupState destroys the resource.
type CleanupState struct{}

func (CleanupState) Name() string { return CleanupStateName }

func (CleanupState) Run(ctx context.Context, d *Drone) (State, error) {
	attributes := d.ResourceAttributes()
	log.FromContext(ctx).Info("terminating resource", "resource-id", attributes.ResourceID)
	if err := d.siteAgent.TerminateResource(ctx, attributes); err != nil {
		return nil, err
	}
	return DownState{}, nil
}

// DownState is terminal.
type DownState struct{}

func (DownState) Name() string { return DownStateName }

func (DownState) Run(ctx context.Context, d *Drone) (State, error) {
	return DownState{}, nil
}
