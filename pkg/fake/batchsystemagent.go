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

package fake

import (
	"context"
	"sync"

	"github.com/matterminers/tardis/pkg/agents"
)

// BatchSystemAgent is a scripted agents.BatchSystemAgent. With nothing
// queued every machine reads as Available with the configured allocation
// and utilisation.
type BatchSystemAgent struct {
	MachineStatusOutput OutcomeQueue[agents.MachineStatus]
	MachineStatusError  AtomicError
	IntegrateError      AtomicError
	DrainError          AtomicError
	DisintegrateError   AtomicError
	UsageError          AtomicError

	mu                    sync.Mutex
	allocation            float64
	utilisation           float64
	integratedMachines    []string
	drainedMachines       []string
	disintegratedMachines []string
	machineStatusCalls    int
}

func (b *BatchSystemAgent) SetUsage(allocation, utilisation float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allocation = allocation
	b.utilisation = utilisation
}

func (b *BatchSystemAgent) IntegrateMachine(_ context.Context, dnsName string) error {
	if err := b.IntegrateError.Get(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.integratedMachines = append(b.integratedMachines, dnsName)
	return nil
}

func (b *BatchSystemAgent) GetMachineStatus(_ context.Context, dnsName string) (agents.MachineStatus, error) {
	b.mu.Lock()
	b.machineStatusCalls++
	b.mu.Unlock()

	if err := b.MachineStatusError.Get(); err != nil {
		return agents.MachineStatusNotAvailable, err
	}
	if status, ok := b.MachineStatusOutput.Next(); ok {
		return status, nil
	}
	return agents.MachineStatusAvailable, nil
}

func (b *BatchSystemAgent) DrainMachine(_ context.Context, dnsName string) error {
	if err := b.DrainError.Get(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainedMachines = append(b.drainedMachines, dnsName)
	return nil
}

func (b *BatchSystemAgent) DisintegrateMachine(_ context.Context, dnsName string) error {
	if err := b.DisintegrateError.Get(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disintegratedMachines = append(b.disintegratedMachines, dnsName)
	return nil
}

func (b *BatchSystemAgent) GetAllocation(_ context.Context, _ string) (float64, error) {
	if err := b.UsageError.Get(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocation, nil
}

func (b *BatchSystemAgent) GetUtilisation(_ context.Context, _ string) (float64, error) {
	if err := b.UsageError.Get(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.utilisation, nil
}

func (b *BatchSystemAgent) IntegratedMachines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.integratedMachines...)
}

func (b *BatchSystemAgent) DrainedMachines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.drainedMachines...)
}

func (b *BatchSystemAgent) DisintegratedMachines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.disintegratedMachines...)
}

func (b *BatchSystemAgent) MachineStatusCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.machineStatusCalls
}

func (b *BatchSystemAgent) Reset() {
	b.MachineStatusOutput.Reset()
	b.MachineStatusError.Reset()
	b.IntegrateError.Reset()
	b.DrainError.Reset()
	b.DisintegrateError.Reset()
	b.UsageError.Reset()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allocation = 0
	b.utilisation = 0
	b.integratedMachines = nil
	b.drainedMachines = nil
	b.disintegratedMachines = nil
	b.machineStatusCalls = 0
}
