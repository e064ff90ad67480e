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

package executors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	tardiserrors "github.com/matterminers/tardis/pkg/errors"
)

// CommandResult captures the outcome of one executed command. Stdout and
// Stderr carry the trailing newline stripped.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs a command on behalf of a batch-system adapter.
type Executor interface {
	RunCommand(ctx context.Context, command string) (CommandResult, error)
}

// ShellExecutor runs commands through the local shell. A non-zero exit is
// reported as errors.ExecutionFailure with stderr preserved.
type ShellExecutor struct{}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) RunCommand(ctx context.Context, command string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, tardiserrors.NewTimeoutError(ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &tardiserrors.ExecutionFailure{
			Command:  command,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}
	return result, fmt.Errorf("running command %q, %w", command, err)
}
