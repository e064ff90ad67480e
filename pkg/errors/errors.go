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

package errors

import (
	"context"
	"errors"
	"fmt"
)

// AuthError reports that an agent rejected the orchestrator's credentials.
// The state machine retries it only in states whose transition table has a
// self-loop; in RequestState it is fatal.
type AuthError struct {
	Err error
}

func NewAuthError(err error) *AuthError {
	return &AuthError{Err: err}
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %s", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that an agent call breached its deadline. Retry
// semantics match AuthError.
type TimeoutError struct {
	Err error
}

func NewTimeoutError(err error) *TimeoutError {
	return &TimeoutError{Err: err}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent call timed out: %s", e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// SiteError wraps any other failure from a site agent. Fatal for the drone.
type SiteError struct {
	Err error
}

func NewSiteError(err error) *SiteError {
	return &SiteError{Err: err}
}

func (e *SiteError) Error() string {
	return fmt.Sprintf("site agent failure: %s", e.Err)
}

func (e *SiteError) Unwrap() error {
	return e.Err
}

// BatchError wraps any other failure from a batch-system agent. Fatal for
// the drone.
type BatchError struct {
	Err error
}

func NewBatchError(err error) *BatchError {
	return &BatchError{Err: err}
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch system agent failure: %s", e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ExecutionFailure reports a non-zero exit from a subprocess run on behalf
// of a batch-system adapter. Callers log it at warning before propagating.
type ExecutionFailure struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// ConfigError reports missing required configuration. It is fatal to the
// subsystem that needs the configuration and is never caught locally.
type ConfigError struct {
	Message string
}

func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return e.Message
}

// IsAuthError returns true if the error is an AuthError, even if wrapped.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTimeout returns true if the error is a TimeoutError or a breached
// context deadline, even if wrapped.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable returns true for the error kinds a self-looping state may
// absorb by re-entering itself.
func IsRetryable(err error) bool {
	return IsAuthError(err) || IsTimeout(err)
}

// IsExecutionFailure returns true if the error is an ExecutionFailure, even
// if wrapped.
func IsExecutionFailure(err error) bool {
	if err == nil {
		return false
	}
	var execErr *ExecutionFailure
	return errors.As(err, &execErr)
}

// IsConfigError returns true if the error is a ConfigError, even if wrapped.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var configErr *ConfigError
	return errors.As(err, &configErr)
}
