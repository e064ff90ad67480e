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
	"fmt"
	"sync"

	"github.com/matterminers/tardis/pkg/agents"
)

// SiteAgent is a scripted agents.SiteAgent. With nothing queued it deploys
// a synthetic resource and echoes attributes back unchanged, so the happy
// path needs no setup.
type SiteAgent struct {
	Name string

	DeployOutput   OutcomeQueue[agents.ResourceAttributes]
	DeployError    AtomicError
	StatusOutput   OutcomeQueue[agents.ResourceAttributes]
	StatusError    AtomicError
	StopError      AtomicError
	TerminateError AtomicError

	mu                  sync.Mutex
	deployedIDs         []string
	statusCalls         int
	stoppedResources    []string
	terminatedResources []string
}

func (s *SiteAgent) SiteName() string {
	if s.Name == "" {
		return "fakesite"
	}
	return s.Name
}

func (s *SiteAgent) DeployResource(_ context.Context, uniqueID string) (agents.ResourceAttributes, error) {
	s.mu.Lock()
	s.deployedIDs = append(s.deployedIDs, uniqueID)
	s.mu.Unlock()

	if err := s.DeployError.Get(); err != nil {
		return agents.ResourceAttributes{}, err
	}
	if attributes, ok := s.DeployOutput.Next(); ok {
		return attributes, nil
	}
	return agents.ResourceAttributes{
		ResourceID:     fmt.Sprintf("resource-%s", uniqueID),
		DNSName:        fmt.Sprintf("%s.example.org", uniqueID),
		ResourceStatus: agents.ResourceStatusBooting,
	}, nil
}

func (s *SiteAgent) ResourceStatus(_ context.Context, attributes agents.ResourceAttributes) (agents.ResourceAttributes, error) {
	s.mu.Lock()
	s.statusCalls++
	s.mu.Unlock()

	if err := s.StatusError.Get(); err != nil {
		return agents.ResourceAttributes{}, err
	}
	if update, ok := s.StatusOutput.Next(); ok {
		return attributes.Merge(update), nil
	}
	return attributes, nil
}

func (s *SiteAgent) StopResource(_ context.Context, attributes agents.ResourceAttributes) error {
	if err := s.StopError.Get(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stoppedResources = append(s.stoppedResources, attributes.ResourceID)
	return nil
}

func (s *SiteAgent) TerminateResource(_ context.Context, attributes agents.ResourceAttributes) error {
	if err := s.TerminateError.Get(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminatedResources = append(s.terminatedResources, attributes.ResourceID)
	return nil
}

func (s *SiteAgent) DeployedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deployedIDs...)
}

func (s *SiteAgent) StatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

func (s *SiteAgent) StoppedResources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stoppedResources...)
}

func (s *SiteAgent) TerminatedResources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.terminatedResources...)
}

func (s *SiteAgent) Reset() {
	s.DeployOutput.Reset()
	s.DeployError.Reset()
	s.StatusOutput.Reset()
	s.StatusError.Reset()
	s.StopError.Reset()
	s.TerminateError.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployedIDs = nil
	s.statusCalls = 0
	s.stoppedResources = nil
	s.terminatedResources = nil
}
