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

package config

import (
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	tardiserrors "github.com/matterminers/tardis/pkg/errors"
)

// Configuration is the application configuration, loaded once at start-up
// and passed by reference. Key names follow the configuration surface the
// daemon has always consumed (Services.restapi, Site, BatchSystem).
type Configuration struct {
	Services    Services    `json:"Services,omitempty"`
	Site        Site        `json:"Site,omitempty"`
	BatchSystem BatchSystem `json:"BatchSystem,omitempty"`
}

type Services struct {
	RestAPI *RestAPI `json:"restapi,omitempty"`
}

// RestAPI carries the observability API's listen address and token signing
// material. SecretKey and Algorithm are required whenever tokens are issued
// or validated.
type RestAPI struct {
	Address   string `json:"address,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

// Site selects and parameterizes the site adapter. Options is an opaque bag
// forwarded to the adapter.
type Site struct {
	Name          string            `json:"name,omitempty"`
	Adapter       string            `json:"adapter,omitempty"`
	Drones        int               `json:"drones,omitempty"`
	MaximumDemand float64           `json:"maximum_demand,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
}

// BatchSystem selects and parameterizes the batch-system adapter. MaxAge is
// the freshness window in seconds for cached batch-system queries; Options
// is an opaque bag forwarded to the adapter.
type BatchSystem struct {
	Adapter string            `json:"adapter,omitempty"`
	MaxAge  int64             `json:"max_age,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// Load reads and parses the configuration file at the given path.
func Load(path string) (*Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file, %w", err)
	}
	return Parse(raw)
}

// Parse unmarshals a YAML configuration document.
func Parse(raw []byte) (*Configuration, error) {
	configuration := &Configuration{}
	if err := yaml.UnmarshalStrict(raw, configuration); err != nil {
		return nil, fmt.Errorf("parsing configuration, %w", err)
	}
	return configuration, nil
}

// RestAPI returns the REST service configuration, or a ConfigError if the
// Services.restapi section is absent.
func (c *Configuration) RestAPI() (*RestAPI, error) {
	if c == nil || c.Services.RestAPI == nil {
		return nil, tardiserrors.NewConfigError("rest service not configured while accessing Services.restapi")
	}
	return c.Services.RestAPI, nil
}

// BatchSystemMaxAge returns the freshness window for cached batch-system
// queries.
func (c *Configuration) BatchSystemMaxAge() time.Duration {
	return time.Duration(c.BatchSystem.MaxAge) * time.Second
}
