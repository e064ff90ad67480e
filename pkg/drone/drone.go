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
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/matterminers/tardis/pkg/agents"
)

const defaultAvailabilityInterval = 10 * time.Second

// Drone is the control record for one managed remote resource. It is a
// logically sequential actor: states execute one at a time; the accessors
// are safe for concurrent observation by the registry and the supply/demand
// surface.
type Drone struct {
	uniqueID             string
	siteAgent            agents.SiteAgent
	batchSystemAgent     agents.BatchSystemAgent
	clock                clock.Clock
	availabilityInterval time.Duration

	mu            sync.RWMutex
	state         State
	attributes    agents.ResourceAttributes
	demand        float64
	maximumDemand float64
	supply        float64
	allocation    float64
	utilisation   float64

	cancelOnce sync.Once
	cancelled  chan struct{}
}

type Option func(*Drone)

// WithAvailabilityInterval overrides the poll interval of AvailableState.
func WithAvailabilityInterval(interval time.Duration) Option {
	return func(d *Drone) {
		d.availabilityInterval = interval
	}
}

// WithClock injects the clock used for the availability interval.
func WithClock(clk clock.Clock) Option {
	return func(d *Drone) {
		d.clock = clk
	}
}

// WithUniqueID pins the drone uuid instead of generating one. Used to
// re-adopt drones recorded by the registry.
func WithUniqueID(uniqueID string) Option {
	return func(d *Drone) {
		d.uniqueID = uniqueID
	}
}

// New creates a drone in RequestState. The uuid is the site name followed by
// ten hex characters, matching the externally exposed drone_uuid pattern.
func New(siteAgent agents.SiteAgent, batchSystemAgent agents.BatchSystemAgent, maximumDemand float64, opts ...Option) *Drone {
	d := &Drone{
		siteAgent:            siteAgent,
		batchSystemAgent:     batchSystemAgent,
		clock:                clock.RealClock{},
		availabilityInterval: defaultAvailabilityInterval,
		state:                RequestState{},
		demand:               maximumDemand,
		maximumDemand:        maximumDemand,
		cancelled:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.uniqueID == "" {
		d.uniqueID = generateUniqueID(siteAgent.SiteName())
	}
	return d
}

func generateUniqueID(siteName string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s", siteName, hex.EncodeToString(id[:])[:10])
}

func (d *Drone) UniqueID() string {
	return d.uniqueID
}

func (d *Drone) SiteAgent() agents.SiteAgent {
	return d.siteAgent
}

func (d *Drone) BatchSystemAgent() agents.BatchSystemAgent {
	return d.batchSystemAgent
}

func (d *Drone) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SetState installs the successor state. Entering any teardown state zeroes
// the supply, so no observer ever sees a draining or terminating drone
// still offering capacity.
func (d *Drone) SetState(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
	if teardownStates.Has(state.Name()) {
		d.supply = 0
	}
}

// ResourceAttributes returns a copy of the drone's attribute record.
func (d *Drone) ResourceAttributes() agents.ResourceAttributes {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attributes.Merge(agents.ResourceAttributes{})
}

// MergeResourceAttributes overlays a site or batch query result onto the
// attribute record. Attribute mutation always precedes the state write of
// the same run step.
func (d *Drone) MergeResourceAttributes(update agents.ResourceAttributes) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attributes = d.attributes.Merge(update)
}

// Demand is the upstream signal telling the drone whether to keep serving.
func (d *Drone) Demand() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.demand
}

func (d *Drone) SetDemand(demand float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.demand = demand
}

func (d *Drone) MaximumDemand() float64 {
	return d.maximumDemand
}

// Supply is the capacity the drone currently offers; zero whenever the
// drone is draining or down.
func (d *Drone) Supply() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.supply
}

func (d *Drone) setSupply(supply float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.supply = supply
}

// Allocation is the most recent batch-system allocation reading, in [0, 1].
func (d *Drone) Allocation() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.allocation
}

// Utilisation is the most recent batch-system utilisation reading, in [0, 1].
func (d *Drone) Utilisation() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.utilisation
}

func (d *Drone) setUsage(allocation, utilisation float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocation = allocation
	d.utilisation = utilisation
}

// Cancel asks the drone to tear down. Delivery happens at the next
// suspension point; the orchestrator reroutes the state accordingly.
func (d *Drone) Cancel() {
	d.cancelOnce.Do(func() {
		close(d.cancelled)
	})
}

func (d *Drone) Cancelled() <-chan struct{} {
	return d.cancelled
}

func (d *Drone) IsCancelled() bool {
	select {
	case <-d.cancelled:
		return true
	default:
		return false
	}
}

// sleep waits for the availability interval, waking early on context
// cancellation or drone cancellation. Returns true when the wait completed
// without the drone being cancelled.
func (d *Drone) sleep(ctx context.Context) (bool, error) {
	if d.availabilityInterval <= 0 {
		return !d.IsCancelled(), ctx.Err()
	}
	timer := d.clock.NewTimer(d.availabilityInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-d.cancelled:
		return false, nil
	case <-timer.C():
		return true, nil
	}
}
