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

package agents

import (
	"github.com/samber/lo"
)

// ResourceStatus is the site-side view of a managed resource.
type ResourceStatus string

const (
	ResourceStatusBooting ResourceStatus = "Booting"
	ResourceStatusRunning ResourceStatus = "Running"
	ResourceStatusStopped ResourceStatus = "Stopped"
	ResourceStatusDeleted ResourceStatus = "Deleted"
)

// MachineStatus is the batch-system-side view of a compute node.
type MachineStatus string

const (
	MachineStatusNotAvailable MachineStatus = "NotAvailable"
	MachineStatusAvailable    MachineStatus = "Available"
	MachineStatusDraining     MachineStatus = "Draining"
	MachineStatusDrained      MachineStatus = "Drained"
)

// ResourceAttributes is the mutable attribute record of one managed
// resource. ResourceID is the opaque site-side identifier, DNSName the
// hostname used for batch-system addressing. Extra holds site-specific
// fields merged on every site query.
type ResourceAttributes struct {
	ResourceID     string            `json:"resource_id,omitempty"`
	DNSName        string            `json:"dns_name,omitempty"`
	ResourceStatus ResourceStatus    `json:"resource_status,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Merge overlays non-empty fields of update onto a copy of the receiver.
// Extra entries are merged key-wise, update winning on conflicts.
func (a ResourceAttributes) Merge(update ResourceAttributes) ResourceAttributes {
	merged := a
	if update.ResourceID != "" {
		merged.ResourceID = update.ResourceID
	}
	if update.DNSName != "" {
		merged.DNSName = update.DNSName
	}
	if update.ResourceStatus != "" {
		merged.ResourceStatus = update.ResourceStatus
	}
	if len(update.Extra) != 0 {
		merged.Extra = lo.Assign(a.Extra, update.Extra)
	} else if a.Extra != nil {
		merged.Extra = lo.Assign(a.Extra)
	}
	return merged
}
