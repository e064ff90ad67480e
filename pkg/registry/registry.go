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

package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/samber/lo"

	"github.com/matterminers/tardis/pkg/agents"
)

// Resource is one drone record as served by the observability API.
type Resource struct {
	DroneUUID  string    `json:"drone_uuid"`
	State      string    `json:"state"`
	Site       string    `json:"site,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	DNSName    string    `json:"dns_name,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
}

// Registry is the durable store mapping drone identity to the last observed
// state and resource attributes. Writes are serialized per drone uuid and
// monotonic: an observer never sees a transition that was later rolled
// back, though a reading may lag the live state machine by one transition.
type Registry interface {
	// GetResourceState returns the recorded state name for the drone, or
	// false when the drone is unknown.
	GetResourceState(ctx context.Context, droneUUID string) (string, bool, error)
	// GetResources lists all recorded drones.
	GetResources(ctx context.Context) ([]Resource, error)
	// Upsert records a transition. Invoked on every transition, including
	// self-loops.
	Upsert(ctx context.Context, droneUUID, stateName string, attributes agents.ResourceAttributes, timestamp time.Time) error
}

type entry struct {
	resource Resource
	hash     uint64
}

// InMemory keeps drone records in process memory. Identical consecutive
// upserts only refresh the last-seen timestamp; the record hash keeps a
// durable backend from rewriting unchanged rows.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewInMemory() *InMemory {
	return &InMemory{entries: map[string]*entry{}}
}

func (r *InMemory) GetResourceState(_ context.Context, droneUUID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[droneUUID]
	if !ok {
		return "", false, nil
	}
	return e.resource.State, true, nil
}

func (r *InMemory) GetResources(_ context.Context) ([]Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resources := lo.Map(lo.Values(r.entries), func(e *entry, _ int) Resource {
		return e.resource
	})
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].DroneUUID < resources[j].DroneUUID
	})
	return resources, nil
}

func (r *InMemory) Upsert(_ context.Context, droneUUID, stateName string, attributes agents.ResourceAttributes, timestamp time.Time) error {
	hash, err := hashstructure.Hash(struct {
		State      string
		Attributes agents.ResourceAttributes
	}{State: stateName, Attributes: attributes}, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[droneUUID]; ok && e.hash == hash {
		e.resource.LastSeen = timestamp
		return nil
	}
	r.entries[droneUUID] = &entry{
		resource: Resource{
			DroneUUID:  droneUUID,
			State:      stateName,
			Site:       siteOf(droneUUID),
			ResourceID: attributes.ResourceID,
			DNSName:    attributes.DNSName,
			LastSeen:   timestamp,
		},
		hash: hash,
	}
	return nil
}

// siteOf recovers the site name from a drone uuid of the form
// "<site>-<10 hex>".
func siteOf(droneUUID string) string {
	idx := strings.LastIndex(droneUUID, "-")
	if idx <= 0 {
		return ""
	}
	return droneUUID[:idx]
}
