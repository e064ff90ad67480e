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

package slurm_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/matterminers/tardis/pkg/adapters/batchsystems/slurm"
	"github.com/matterminers/tardis/pkg/agents"
	"github.com/matterminers/tardis/pkg/config"
	tardiserrors "github.com/matterminers/tardis/pkg/errors"
	"github.com/matterminers/tardis/pkg/fake"
	"github.com/matterminers/tardis/pkg/utils/executors"
)

const (
	sinfoCommand = `sinfo --Format="statelong,cpusstate,allocmem,memory,features,nodehost" -e --noheader -r`

	sinfoOutput = `mix 2/6/0/8 32000 64000 (null) node-1.example.org
drng 8/0/0/8 64000 64000 (null) node-2.example.org
drained* 0/8/0/8 0 64000 (null) node-3.example.org
idle 0/8/0/8 0 64000 (null) node-4.example.org
down 0/8/0/8 0 64000 (null) node-5.example.org`
)

var (
	ctx      context.Context
	executor *fake.Executor
	agent    *slurm.Agent
)

func TestSlurm(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Slurm")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	executor = &fake.Executor{}
	executor.Script(sinfoCommand, executors.CommandResult{Stdout: sinfoOutput})
	agent = slurm.NewAgent(executor, config.BatchSystem{Adapter: "Slurm"})
})

var _ = Describe("GetMachineStatus", func() {
	It("should map slurm node states onto machine statuses", func() {
		for dnsName, expected := range map[string]agents.MachineStatus{
			"node-1.example.org": agents.MachineStatusAvailable,
			"node-2.example.org": agents.MachineStatusDraining,
			"node-3.example.org": agents.MachineStatusDrained,
			"node-4.example.org": agents.MachineStatusAvailable,
			"node-5.example.org": agents.MachineStatusNotAvailable,
		} {
			status, err := agent.GetMachineStatus(ctx, dnsName)
			Expect(err).ToNot(HaveOccurred())
			Expect(status).To(Equal(expected), dnsName)
		}
	})
	It("should report machines missing from sinfo as not available", func() {
		status, err := agent.GetMachineStatus(ctx, "node-9.example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(Equal(agents.MachineStatusNotAvailable))
	})
	It("should propagate executor failures", func() {
		executor.Reset()
		executor.ScriptError(sinfoCommand, &tardiserrors.ExecutionFailure{Command: sinfoCommand, ExitCode: 1, Stderr: "slurm_load_partitions: Unable to contact slurm controller"})
		_, err := agent.GetMachineStatus(ctx, "node-1.example.org")
		Expect(tardiserrors.IsExecutionFailure(err)).To(BeTrue())
	})
	It("should fail on malformed sinfo output", func() {
		executor.Reset()
		executor.Script(sinfoCommand, executors.CommandResult{Stdout: "mix 2/6/0/8 32000"})
		_, err := agent.GetMachineStatus(ctx, "node-1.example.org")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("GetAllocation and GetUtilisation", func() {
	It("should report the dominant and bottleneck resource ratios", func() {
		allocation, err := agent.GetAllocation(ctx, "node-1.example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(allocation).To(Equal(0.5))

		utilisation, err := agent.GetUtilisation(ctx, "node-1.example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(utilisation).To(Equal(0.25))
	})
	It("should report a fully allocated machine as 1.0", func() {
		allocation, err := agent.GetAllocation(ctx, "node-2.example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(allocation).To(Equal(1.0))
	})
	It("should report machines missing from sinfo as unused", func() {
		allocation, err := agent.GetAllocation(ctx, "node-9.example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(allocation).To(BeZero())

		utilisation, err := agent.GetUtilisation(ctx, "node-9.example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(utilisation).To(BeZero())
	})
})

var _ = Describe("DrainMachine", func() {
	const drainCommand = `scontrol update NodeName=node-1.example.org State=DRAIN Reason='COBalD/TARDIS'`

	It("should drain through scontrol", func() {
		executor.Script(drainCommand, executors.CommandResult{})
		Expect(agent.DrainMachine(ctx, "node-1.example.org")).To(Succeed())
		Expect(executor.Commands()).To(Equal([]string{sinfoCommand, drainCommand}))
	})
	It("should not drain machines missing from sinfo", func() {
		Expect(agent.DrainMachine(ctx, "node-9.example.org")).To(Succeed())
		Expect(executor.Commands()).To(Equal([]string{sinfoCommand}))
	})
	It("should propagate scontrol failures", func() {
		executor.ScriptError(drainCommand, &tardiserrors.ExecutionFailure{Command: drainCommand, ExitCode: 1, Stderr: "Invalid node name"})
		Expect(agent.DrainMachine(ctx, "node-1.example.org")).ToNot(Succeed())
	})
})

var _ = Describe("Caching", func() {
	It("should serve repeated queries from one sinfo snapshot", func() {
		_, err := agent.GetMachineStatus(ctx, "node-1.example.org")
		Expect(err).ToNot(HaveOccurred())
		_, err = agent.GetAllocation(ctx, "node-2.example.org")
		Expect(err).ToNot(HaveOccurred())
		_, err = agent.GetUtilisation(ctx, "node-3.example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(executor.Commands()).To(Equal([]string{sinfoCommand}))
	})
})

var _ = Describe("Partitioned clusters", func() {
	It("should restrict sinfo to the configured partition", func() {
		partitioned := sinfoCommand + " --partition=tardis"
		executor.Reset()
		executor.Script(partitioned, executors.CommandResult{Stdout: sinfoOutput})
		agent = slurm.NewAgent(executor, config.BatchSystem{
			Adapter: "Slurm",
			Options: map[string]string{"partition": "tardis"},
		})

		status, err := agent.GetMachineStatus(ctx, "node-1.example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(Equal(agents.MachineStatusAvailable))
		Expect(executor.Commands()).To(Equal([]string{partitioned}))
	})
})

var _ = Describe("Integration hooks", func() {
	It("should integrate and disintegrate without commands", func() {
		Expect(agent.IntegrateMachine(ctx, "node-1.example.org")).To(Succeed())
		Expect(agent.DisintegrateMachine(ctx, "node-1.example.org")).To(Succeed())
		Expect(executor.Commands()).To(BeEmpty())
	})
})
