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
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/matterminers/tardis/pkg/agents"
)

// The transition tables below are static per state and shared by all
// drones; they are the single authoritative source for allowed successors.
// A status missing from its table is a fatal observation for the drone.

var bootingTransitions = map[agents.ResourceStatus]State{
	agents.ResourceStatusBooting: BootingState{},
	agents.ResourceStatusRunning: IntegrateState{},
}

var integratingTransitions = map[agents.MachineStatus]State{
	agents.MachineStatusNotAvailable: IntegratingState{},
	agents.MachineStatusAvailable:    AvailableState{},
}

// Available maps back to Draining on purpose: the batch system has not yet
// flushed the machine's workload.
var drainingTransitions = map[agents.MachineStatus]State{
	agents.MachineStatusDraining:  DrainingState{},
	agents.MachineStatusAvailable: DrainingState{},
	agents.MachineStatusDrained:   DisintegrateState{},
}

// Booting here is an inconsistent observation and keeps the drone in
// ShuttingDown; Deleted advances straight to Cleanup, termination being
// idempotent.
var shuttingDownTransitions = map[agents.ResourceStatus]State{
	agents.ResourceStatusRunning: ShuttingDownState{},
	agents.ResourceStatusBooting: ShuttingDownState{},
	agents.ResourceStatusStopped: CleanupState{},
	agents.ResourceStatusDeleted: CleanupState{},
}

// teardownStates are the states in which the drone must not offer supply.
var teardownStates = sets.New[string](
	DrainStateName,
	DrainingStateName,
	DisintegrateStateName,
	ShutDownStateName,
	ShuttingDownStateName,
	CleanupStateName,
	DownStateName,
)

// IsTeardown reports whether the named state is on the teardown path.
func IsTeardown(stateName string) bool {
	return teardownStates.Has(stateName)
}
