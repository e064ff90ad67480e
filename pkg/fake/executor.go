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

	"github.com/matterminers/tardis/pkg/utils/executors"
)

// Executor resolves commands against a scripted table instead of a shell.
// Unscripted commands fail, so a test notices immediately when the code
// under test runs something unexpected.
type Executor struct {
	mu       sync.Mutex
	results  map[string]executors.CommandResult
	errors   map[string]error
	commands []string
}

func (e *Executor) Script(command string, result executors.CommandResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.results == nil {
		e.results = map[string]executors.CommandResult{}
	}
	e.results[command] = result
}

func (e *Executor) ScriptError(command string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.errors == nil {
		e.errors = map[string]error{}
	}
	e.errors[command] = err
}

func (e *Executor) RunCommand(_ context.Context, command string) (executors.CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	if err, ok := e.errors[command]; ok {
		return executors.CommandResult{}, err
	}
	if result, ok := e.results[command]; ok {
		return result, nil
	}
	return executors.CommandResult{}, fmt.Errorf("unscripted command %q", command)
}

// Commands lists every command executed, in order.
func (e *Executor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = nil
	e.errors = nil
	e.commands = nil
}
