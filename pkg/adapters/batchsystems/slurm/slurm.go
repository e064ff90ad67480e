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

package slurm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/matterminers/tardis/pkg/agents"
	"github.com/matterminers/tardis/pkg/config"
	tardiserrors "github.com/matterminers/tardis/pkg/errors"
	"github.com/matterminers/tardis/pkg/utils/executors"
	"github.com/matterminers/tardis/pkg/utils/log"
)

const (
	sinfoFormat   = `sinfo --Format="statelong,cpusstate,allocmem,memory,features,nodehost" -e --noheader -r`
	nodeCacheKey  = "nodes"
	defaultMaxAge = 60 * time.Second
)

// machineStatus maps slurm node states onto the batch-system status enum.
// Unknown states and machines missing from the sinfo output report
// NotAvailable.
var machineStatus = map[string]agents.MachineStatus{
	"alloc":     agents.MachineStatusAvailable,
	"allocated": agents.MachineStatusAvailable,
	"mix":       agents.MachineStatusAvailable,
	"mixed":     agents.MachineStatusAvailable,
	"idle":      agents.MachineStatusAvailable,
	"draining":  agents.MachineStatusDraining,
	"drng":      agents.MachineStatusDraining,
	"drained":   agents.MachineStatusDrained,
	"drain":     agents.MachineStatusDrained,
}

type node struct {
	state       string
	cpuRatio    float64
	memoryRatio float64
	nodeHost    string
}

// Agent is the slurm batch-system adapter. Node information is polled
// through sinfo and cached for the configured BatchSystem.max_age; drain
// requests go through scontrol. Machines join the scheduler on boot, so
// integration and disintegration are observations rather than commands.
type Agent struct {
	executor  executors.Executor
	partition string

	mu    sync.Mutex
	cache *gocache.Cache
}

func NewAgent(executor executors.Executor, cfg config.BatchSystem) *Agent {
	maxAge := time.Duration(cfg.MaxAge) * time.Second
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Agent{
		executor:  executor,
		partition: cfg.Options["partition"],
		cache:     gocache.New(maxAge, 2*maxAge),
	}
}

func (a *Agent) IntegrateMachine(ctx context.Context, dnsName string) error {
	log.FromContext(ctx).V(1).Info("slurm machines integrate on boot", "machine", dnsName)
	return nil
}

func (a *Agent) DisintegrateMachine(ctx context.Context, dnsName string) error {
	log.FromContext(ctx).V(1).Info("slurm machines disintegrate on shutdown", "machine", dnsName)
	return nil
}

func (a *Agent) GetMachineStatus(ctx context.Context, dnsName string) (agents.MachineStatus, error) {
	info, found, err := a.machine(ctx, dnsName)
	if err != nil {
		return "", err
	}
	if !found {
		return agents.MachineStatusNotAvailable, nil
	}
	status, known := machineStatus[strings.TrimRight(info.state, "*~#%!@$")]
	if !known {
		return agents.MachineStatusNotAvailable, nil
	}
	return status, nil
}

// GetAllocation reports the dominant resource ratio of the machine; a
// machine missing from the sinfo output allocates nothing.
func (a *Agent) GetAllocation(ctx context.Context, dnsName string) (float64, error) {
	info, found, err := a.machine(ctx, dnsName)
	if err != nil || !found {
		return 0.0, err
	}
	return max(info.cpuRatio, info.memoryRatio), nil
}

// GetUtilisation reports the bottleneck resource ratio of the machine.
func (a *Agent) GetUtilisation(ctx context.Context, dnsName string) (float64, error) {
	info, found, err := a.machine(ctx, dnsName)
	if err != nil || !found {
		return 0.0, err
	}
	return min(info.cpuRatio, info.memoryRatio), nil
}

func (a *Agent) DrainMachine(ctx context.Context, dnsName string) error {
	info, found, err := a.machine(ctx, dnsName)
	if err != nil {
		return err
	}
	if !found {
		// Nothing to drain, the machine never joined or already left.
		return nil
	}
	command := fmt.Sprintf("scontrol update NodeName=%s State=DRAIN Reason='COBalD/TARDIS'", info.nodeHost)
	if _, err := a.executor.RunCommand(ctx, command); err != nil {
		log.FromContext(ctx).Error(err, "draining machine failed", "machine", dnsName)
		return err
	}
	return nil
}

// machine returns the cached node record for dnsName, refreshing the sinfo
// snapshot when the cache has expired.
func (a *Agent) machine(ctx context.Context, dnsName string) (node, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cached, found := a.cache.Get(nodeCacheKey)
	if !found {
		refreshed, err := a.pollNodes(ctx)
		if err != nil {
			return node{}, false, err
		}
		a.cache.SetDefault(nodeCacheKey, refreshed)
		cached = refreshed
	}
	nodes := cached.(map[string]node)
	info, ok := nodes[dnsName]
	return info, ok, nil
}

func (a *Agent) pollNodes(ctx context.Context) (map[string]node, error) {
	command := sinfoFormat
	if a.partition != "" {
		command += fmt.Sprintf(" --partition=%s", a.partition)
	}
	result, err := a.executor.RunCommand(ctx, command)
	if err != nil {
		log.FromContext(ctx).Error(err, "polling slurm node states failed")
		return nil, err
	}
	return parseNodes(result.Stdout)
}

// parseNodes splits sinfo output formatted as
// "statelong cpusstate allocmem memory features nodehost" into node records
// keyed by host name. The cpusstate column is "allocated/idle/other/total".
func parseNodes(output string) (map[string]node, error) {
	nodes := map[string]node{}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 6 {
			return nil, tardiserrors.NewBatchError(fmt.Errorf("malformed sinfo line %q", line))
		}
		cpuRatio, err := cpuRatioOf(fields[1])
		if err != nil {
			return nil, tardiserrors.NewBatchError(err)
		}
		memoryRatio, err := memoryRatioOf(fields[2], fields[3])
		if err != nil {
			return nil, tardiserrors.NewBatchError(err)
		}
		nodes[fields[5]] = node{
			state:       fields[0],
			cpuRatio:    cpuRatio,
			memoryRatio: memoryRatio,
			nodeHost:    fields[5],
		}
	}
	return nodes, nil
}

func cpuRatioOf(cpusState string) (float64, error) {
	parts := strings.Split(cpusState, "/")
	if len(parts) != 4 {
		return 0, fmt.Errorf("malformed cpusstate %q", cpusState)
	}
	allocated, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	total, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return allocated / total, nil
}

func memoryRatioOf(allocMem, totalMem string) (float64, error) {
	allocated, err := strconv.ParseFloat(allocMem, 64)
	if err != nil {
		return 0, err
	}
	total, err := strconv.ParseFloat(totalMem, 64)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return allocated / total, nil
}
