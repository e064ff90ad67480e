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

package orchestrator_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matterminers/tardis/pkg/agents"
	"github.com/matterminers/tardis/pkg/drone"
	tardiserrors "github.com/matterminers/tardis/pkg/errors"
	"github.com/matterminers/tardis/pkg/fake"
	"github.com/matterminers/tardis/pkg/metrics"
	"github.com/matterminers/tardis/pkg/orchestrator"
	"github.com/matterminers/tardis/pkg/registry"
)

var (
	ctx        context.Context
	siteAgent  *fake.SiteAgent
	batchAgent *fake.BatchSystemAgent
	reg        *registry.InMemory
	orch       *orchestrator.Orchestrator
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	siteAgent = &fake.SiteAgent{Name: "testsite"}
	batchAgent = &fake.BatchSystemAgent{}
	reg = registry.NewInMemory()
	orch = orchestrator.New(reg)
})

func newDrone(maximumDemand float64) *drone.Drone {
	return drone.New(siteAgent, batchAgent, maximumDemand, drone.WithAvailabilityInterval(0))
}

func recordedState(droneUUID string) string {
	GinkgoHelper()
	state, ok, err := reg.GetResourceState(ctx, droneUUID)
	Expect(err).ToNot(HaveOccurred())
	Expect(ok).To(BeTrue())
	return state
}

var _ = Describe("Run", func() {
	It("should drive a drone through its whole lifecycle", func() {
		// Boot immediately, integrate on the second poll, serve once, then
		// drain through to Down as the demand is zero from the start.
		siteAgent.StatusOutput.Add(
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusRunning},
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusStopped},
		)
		batchAgent.MachineStatusOutput.Add(
			agents.MachineStatusAvailable,
			agents.MachineStatusAvailable,
			agents.MachineStatusDrained,
		)
		d := newDrone(0)

		Expect(orch.Run(ctx, d)).To(Succeed())

		Expect(d.State().Name()).To(Equal(drone.DownStateName))
		Expect(recordedState(d.UniqueID())).To(Equal(drone.DownStateName))
		Expect(siteAgent.DeployedIDs()).To(Equal([]string{d.UniqueID()}))
		Expect(batchAgent.IntegratedMachines()).To(HaveLen(1))
		Expect(batchAgent.DrainedMachines()).To(HaveLen(1))
		Expect(siteAgent.StoppedResources()).To(HaveLen(1))
		Expect(siteAgent.TerminatedResources()).To(HaveLen(1))
		Expect(d.Supply()).To(BeZero())
	})

	It("should count each drone once in the per-state gauge across repeated states", func() {
		// Three Booting polls before the instance comes up; the gauge must
		// not accumulate one unit per poll.
		siteAgent.StatusOutput.Add(
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusBooting},
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusBooting},
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusBooting},
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusRunning},
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusStopped},
		)
		batchAgent.MachineStatusOutput.Add(
			agents.MachineStatusAvailable,
			agents.MachineStatusAvailable,
			agents.MachineStatusDrained,
		)
		bootingBefore := testutil.ToFloat64(metrics.DronesByState.WithLabelValues(drone.BootingStateName))
		downBefore := testutil.ToFloat64(metrics.DronesByState.WithLabelValues(drone.DownStateName))
		requestLoopsBefore := testutil.ToFloat64(metrics.StateTransitions.WithLabelValues(drone.RequestStateName, drone.RequestStateName))
		d := newDrone(0)

		Expect(orch.Run(ctx, d)).To(Succeed())

		Expect(d.State().Name()).To(Equal(drone.DownStateName))
		Expect(testutil.ToFloat64(metrics.DronesByState.WithLabelValues(drone.BootingStateName))).To(Equal(bootingBefore))
		Expect(testutil.ToFloat64(metrics.DronesByState.WithLabelValues(drone.DownStateName))).To(Equal(downBefore + 1))
		// Registering the initial state is not a transition.
		Expect(testutil.ToFloat64(metrics.StateTransitions.WithLabelValues(drone.RequestStateName, drone.RequestStateName))).To(Equal(requestLoopsBefore))
	})

	It("should run drones independently and tolerate one failing", func() {
		siteAgent.DeployError.Set(tardiserrors.NewSiteError(errors.New("quota exceeded")))
		siteAgent.StatusOutput.Add(
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusRunning},
			agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusStopped},
		)
		batchAgent.MachineStatusOutput.Add(
			agents.MachineStatusAvailable,
			agents.MachineStatusAvailable,
			agents.MachineStatusDrained,
		)
		failing := newDrone(0)
		healthy := newDrone(0)

		Expect(orch.Run(ctx, failing, healthy)).To(Succeed())

		Expect(failing.State().Name()).To(Equal(drone.DownStateName))
		Expect(healthy.State().Name()).To(Equal(drone.DownStateName))
		Expect(orch.Drones()).To(HaveLen(2))
	})

	It("should take a drone down without cleanup when deployment is rejected", func() {
		siteAgent.DeployError.Set(tardiserrors.NewAuthError(errors.New("invalid credentials")))
		d := newDrone(1)

		Expect(orch.Run(ctx, d)).To(Succeed())

		Expect(recordedState(d.UniqueID())).To(Equal(drone.DownStateName))
		Expect(siteAgent.StoppedResources()).To(BeEmpty())
		Expect(siteAgent.TerminatedResources()).To(BeEmpty())
	})

	It("should clean up a provisioned resource after a fatal failure", func() {
		siteAgent.StatusOutput.Add(agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusRunning})
		batchAgent.IntegrateError.Set(tardiserrors.NewBatchError(errors.New("scheduler unreachable")))
		d := newDrone(1)

		Expect(orch.Run(ctx, d)).To(Succeed())

		Expect(recordedState(d.UniqueID())).To(Equal(drone.DownStateName))
		Expect(batchAgent.DisintegratedMachines()).To(HaveLen(1))
		Expect(siteAgent.StoppedResources()).To(HaveLen(1))
		Expect(siteAgent.TerminatedResources()).To(HaveLen(1))
	})

	It("should never deploy a drone cancelled while still in Request", func() {
		d := newDrone(1)
		d.Cancel()

		Expect(orch.Run(ctx, d)).To(Succeed())

		Expect(recordedState(d.UniqueID())).To(Equal(drone.DownStateName))
		Expect(siteAgent.DeployedIDs()).To(BeEmpty())
	})

	It("should drain a cancelled serving drone through the full teardown", func() {
		batchAgent.MachineStatusOutput.Add(agents.MachineStatusDrained)
		siteAgent.StatusOutput.Add(agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusStopped})
		d := newDrone(1)
		d.SetState(drone.AvailableState{})
		d.MergeResourceAttributes(agents.ResourceAttributes{ResourceID: "id-1", DNSName: "node-1.example.org"})
		d.Cancel()

		Expect(orch.Run(ctx, d)).To(Succeed())

		Expect(recordedState(d.UniqueID())).To(Equal(drone.DownStateName))
		Expect(batchAgent.DrainedMachines()).To(Equal([]string{"node-1.example.org"}))
		Expect(siteAgent.StoppedResources()).To(Equal([]string{"id-1"}))
		Expect(siteAgent.TerminatedResources()).To(Equal([]string{"id-1"}))
	})

	It("should stop a drone shut down by context cancellation", func() {
		runCtx, cancel := context.WithCancel(ctx)
		cancel()
		d := newDrone(1)

		Expect(orch.Run(runCtx, d)).To(Succeed())
		Expect(d.State().Name()).ToNot(Equal(drone.DownStateName))
	})
})
