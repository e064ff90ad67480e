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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2API is a scripted double for the EC2 calls the site agent makes. With
// no output set, RunInstances launches a pending instance whose id derives
// from the client token.
type EC2API struct {
	RunInstancesOutput      AtomicPtr[ec2.RunInstancesOutput]
	RunInstancesError       AtomicError
	DescribeInstancesOutput AtomicPtr[ec2.DescribeInstancesOutput]
	DescribeInstancesError  AtomicError
	StopInstancesError      AtomicError
	TerminateInstancesError AtomicError

	mu                  sync.Mutex
	runCalls            []*ec2.RunInstancesInput
	describeCalls       []*ec2.DescribeInstancesInput
	stoppedInstances    []string
	terminatedInstances []string
}

func (e *EC2API) RunInstances(_ context.Context, params *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	e.mu.Lock()
	e.runCalls = append(e.runCalls, params)
	e.mu.Unlock()

	if err := e.RunInstancesError.Get(); err != nil {
		return nil, err
	}
	if !e.RunInstancesOutput.IsNil() {
		return e.RunInstancesOutput.Clone(), nil
	}
	return &ec2.RunInstancesOutput{
		Instances: []ec2types.Instance{{
			InstanceId:     aws.String(fmt.Sprintf("i-%s", aws.ToString(params.ClientToken))),
			PrivateDnsName: aws.String(fmt.Sprintf("ip-%s.internal", aws.ToString(params.ClientToken))),
			InstanceType:   params.InstanceType,
			State:          &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
		}},
	}, nil
}

func (e *EC2API) DescribeInstances(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	e.mu.Lock()
	e.describeCalls = append(e.describeCalls, params)
	e.mu.Unlock()

	if err := e.DescribeInstancesError.Get(); err != nil {
		return nil, err
	}
	if !e.DescribeInstancesOutput.IsNil() {
		return e.DescribeInstancesOutput.Clone(), nil
	}
	return &ec2.DescribeInstancesOutput{}, nil
}

func (e *EC2API) StopInstances(_ context.Context, params *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	if err := e.StopInstancesError.Get(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stoppedInstances = append(e.stoppedInstances, params.InstanceIds...)
	return &ec2.StopInstancesOutput{}, nil
}

func (e *EC2API) TerminateInstances(_ context.Context, params *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	if err := e.TerminateInstancesError.Get(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminatedInstances = append(e.terminatedInstances, params.InstanceIds...)
	return &ec2.TerminateInstancesOutput{}, nil
}

func (e *EC2API) RunInstancesCalls() []*ec2.RunInstancesInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*ec2.RunInstancesInput(nil), e.runCalls...)
}

func (e *EC2API) DescribeInstancesCalls() []*ec2.DescribeInstancesInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*ec2.DescribeInstancesInput(nil), e.describeCalls...)
}

func (e *EC2API) StoppedInstances() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.stoppedInstances...)
}

func (e *EC2API) TerminatedInstances() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.terminatedInstances...)
}

func (e *EC2API) Reset() {
	e.RunInstancesOutput.Reset()
	e.RunInstancesError.Reset()
	e.DescribeInstancesOutput.Reset()
	e.DescribeInstancesError.Reset()
	e.StopInstancesError.Reset()
	e.TerminateInstancesError.Reset()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runCalls = nil
	e.describeCalls = nil
	e.stoppedInstances = nil
	e.terminatedInstances = nil
}
