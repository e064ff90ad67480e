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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tardis"
	subsystem = "drones"
)

var (
	// StateTransitions counts drone state transitions, self-loops included.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "state_transitions_total",
		Help:      "Number of drone state transitions, labelled by source and target state.",
	}, []string{"from", "to"})

	// DronesByState gauges the number of live drones per state.
	DronesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "count",
		Help:      "Number of drones currently in each state.",
	}, []string{"state"})

	// Supply gauges the capacity currently offered across all drones.
	Supply = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "supply",
		Help:      "Aggregate capacity currently offered by all drones.",
	})
)
