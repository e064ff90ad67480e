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
	"context"
)

// SiteAgent provisions, queries, stops and terminates resources on a remote
// compute provider. Every operation may fail with errors.AuthError
// (credential rejected) or errors.TimeoutError (deadline breached); any
// other failure is surfaced as errors.SiteError.
type SiteAgent interface {
	// SiteName identifies the site; it prefixes every drone uuid.
	SiteName() string
	// DeployResource creates the resource and returns its initial
	// attributes, including resource_id and dns_name. Idempotent keyed by
	// uniqueID.
	DeployResource(ctx context.Context, uniqueID string) (ResourceAttributes, error)
	// ResourceStatus returns refreshed attributes; the result always has
	// ResourceStatus set.
	ResourceStatus(ctx context.Context, attributes ResourceAttributes) (ResourceAttributes, error)
	// StopResource requests a graceful shutdown. Idempotent.
	StopResource(ctx context.Context, attributes ResourceAttributes) error
	// TerminateResource destroys the resource. Idempotent; may return
	// before the resource is fully gone. The final observation is
	// ResourceStatus reporting Deleted.
	TerminateResource(ctx context.Context, attributes ResourceAttributes) error
}

// BatchSystemAgent integrates, queries, drains and disintegrates compute
// nodes in a batch scheduler, addressed by dns name. Failures follow the
// same taxonomy as SiteAgent, with errors.BatchError as the catch-all.
type BatchSystemAgent interface {
	// IntegrateMachine adds the machine to the batch system.
	IntegrateMachine(ctx context.Context, dnsName string) error
	// GetMachineStatus reports the machine's batch-system status. Machines
	// unknown to the batch system report NotAvailable.
	GetMachineStatus(ctx context.Context, dnsName string) (MachineStatus, error)
	// DrainMachine asks the batch system to flush workload off the machine.
	DrainMachine(ctx context.Context, dnsName string) error
	// DisintegrateMachine removes the machine from the batch system.
	DisintegrateMachine(ctx context.Context, dnsName string) error
	// GetAllocation reports the fraction of the machine's resources
	// currently allocated, in [0, 1].
	GetAllocation(ctx context.Context, dnsName string) (float64, error)
	// GetUtilisation reports the fraction of the machine's resources
	// currently utilised, in [0, 1].
	GetUtilisation(ctx context.Context, dnsName string) (float64, error)
}
