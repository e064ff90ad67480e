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

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/matterminers/tardis/pkg/drone"
	"github.com/matterminers/tardis/pkg/metrics"
	"github.com/matterminers/tardis/pkg/registry"
	"github.com/matterminers/tardis/pkg/utils/log"
)

// Orchestrator drives every live drone through its state machine. Drones
// advance concurrently and independently; no cross-drone ordering is
// guaranteed. Each transition is recorded in the registry after the run
// step's attribute mutations, so the registry never observes a new state
// with stale attributes.
type Orchestrator struct {
	registry registry.Registry
	clock    clock.Clock
	pacing   time.Duration

	mu     sync.RWMutex
	drones map[string]*drone.Drone
}

type Option func(*Orchestrator)

// WithPacingInterval inserts a pause between state executions. Useful to
// slow the machine down outside production; defaults to none.
func WithPacingInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.pacing = interval
	}
}

func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clk
	}
}

func New(reg registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		clock:    clock.RealClock{},
		drones:   map[string]*drone.Drone{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Drones returns the drones the orchestrator has been handed.
func (o *Orchestrator) Drones() []*drone.Drone {
	o.mu.RLock()
	defer o.mu.RUnlock()
	drones := make([]*drone.Drone, 0, len(o.drones))
	for _, d := range o.drones {
		drones = append(drones, d)
	}
	return drones
}

// Run drives the given drones until they all terminate or the context is
// cancelled. A failing drone never takes its siblings down.
func (o *Orchestrator) Run(ctx context.Context, drones ...*drone.Drone) error {
	o.mu.Lock()
	for _, d := range drones {
		o.drones[d.UniqueID()] = d
	}
	o.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range drones {
		g.Go(func() error {
			o.runDrone(ctx, d)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) runDrone(ctx context.Context, d *drone.Drone) {
	logger := log.FromContext(ctx).WithValues("drone", d.UniqueID())
	o.register(ctx, d)

	for {
		current := d.State()
		if drone.IsTerminal(current) {
			logger.Info("drone terminated")
			return
		}
		if next := rerouteCancelled(d, current); next != nil {
			logger.Info("drone cancelled, rerouting", "from", current.Name(), "to", next.Name())
			d.SetState(next)
			o.record(ctx, d, current.Name(), next.Name())
			continue
		}

		runCtx := log.IntoContext(ctx, logger.WithValues("state", current.Name()))
		next, err := runState(runCtx, current, d)
		if ctx.Err() != nil {
			// Shutting down; the registry keeps the last recorded state.
			return
		}
		if err != nil || next == nil {
			if err == nil {
				// A state that names no successor is an implementation
				// error and treated as Down.
				err = fmt.Errorf("state %s returned no successor", current.Name())
			}
			logger.Error(err, "drone state failed, forcing teardown", "state", current.Name())
			d.SetState(drone.DownState{})
			o.record(ctx, d, current.Name(), drone.DownStateName)
			o.cleanup(runCtx, d)
			continue
		}

		d.SetState(next)
		o.record(ctx, d, current.Name(), next.Name())
		o.pace(ctx)
	}
}

// runState executes one state body, converting panics into errors so a
// misbehaving agent cannot take the orchestrator down.
func runState(ctx context.Context, current drone.State, d *drone.Drone) (next drone.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("state %s panicked: %v", current.Name(), r)
		}
	}()
	return current.Run(ctx, d)
}

// rerouteCancelled maps a cancelled drone onto its teardown entry point:
// Down when the resource was never provisioned, ShutDown when it was never
// integrated, Drain while it serves. Drones already tearing down keep
// their path.
func rerouteCancelled(d *drone.Drone, current drone.State) drone.State {
	if !d.IsCancelled() {
		return nil
	}
	switch current.Name() {
	case drone.RequestStateName:
		return drone.DownState{}
	case drone.BootingStateName:
		return drone.ShutDownState{}
	case drone.IntegrateStateName, drone.IntegratingStateName, drone.AvailableStateName:
		return drone.DrainState{}
	default:
		return nil
	}
}

// cleanup makes a best effort to release the drone's site and batch-system
// resources after a fatal error. Every call is idempotent; failures are
// logged and abandoned after a few attempts.
func (o *Orchestrator) cleanup(ctx context.Context, d *drone.Drone) {
	attributes := d.ResourceAttributes()
	if attributes.ResourceID == "" {
		// Nothing was ever provisioned.
		return
	}
	var errs error
	if attributes.DNSName != "" {
		errs = multierr.Append(errs, retry.Do(
			func() error { return d.BatchSystemAgent().DisintegrateMachine(ctx, attributes.DNSName) },
			retry.Delay(1*time.Second),
			retry.Attempts(3),
			retry.LastErrorOnly(true),
		))
	}
	errs = multierr.Append(errs, retry.Do(
		func() error { return d.SiteAgent().StopResource(ctx, attributes) },
		retry.Delay(1*time.Second),
		retry.Attempts(3),
		retry.LastErrorOnly(true),
	))
	errs = multierr.Append(errs, retry.Do(
		func() error { return d.SiteAgent().TerminateResource(ctx, attributes) },
		retry.Delay(1*time.Second),
		retry.Attempts(3),
		retry.LastErrorOnly(true),
	))
	if errs != nil {
		log.FromContext(ctx).Error(errs, "cleanup incomplete, resources may leak")
	}
}

// register records the drone's initial state. No transition has happened
// yet, so only the per-state gauge moves.
func (o *Orchestrator) register(ctx context.Context, d *drone.Drone) {
	state := d.State().Name()
	if err := o.registry.Upsert(ctx, d.UniqueID(), state, d.ResourceAttributes(), o.clock.Now()); err != nil {
		log.FromContext(ctx).Error(err, "registering drone failed", "drone", d.UniqueID(), "state", state)
	}
	metrics.DronesByState.WithLabelValues(state).Inc()
	metrics.Supply.Set(o.totalSupply())
}

// record persists the transition and updates the transition metrics. The
// per-state gauge moves only on a state change, so each drone counts once
// no matter how often a state repeats.
func (o *Orchestrator) record(ctx context.Context, d *drone.Drone, from, to string) {
	if err := o.registry.Upsert(ctx, d.UniqueID(), to, d.ResourceAttributes(), o.clock.Now()); err != nil {
		log.FromContext(ctx).Error(err, "recording transition failed", "drone", d.UniqueID(), "state", to)
	}
	metrics.StateTransitions.WithLabelValues(from, to).Inc()
	if from != to {
		metrics.DronesByState.WithLabelValues(from).Dec()
		metrics.DronesByState.WithLabelValues(to).Inc()
	}
	metrics.Supply.Set(o.totalSupply())
}

func (o *Orchestrator) totalSupply() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var total float64
	for _, d := range o.drones {
		total += d.Supply()
	}
	return total
}

func (o *Orchestrator) pace(ctx context.Context) {
	if o.pacing <= 0 {
		return
	}
	timer := o.clock.NewTimer(o.pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C():
	}
}
