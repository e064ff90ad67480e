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

package ec2_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/matterminers/tardis/pkg/adapters/sites/ec2"
	"github.com/matterminers/tardis/pkg/agents"
	"github.com/matterminers/tardis/pkg/config"
	tardiserrors "github.com/matterminers/tardis/pkg/errors"
	"github.com/matterminers/tardis/pkg/fake"
)

var (
	ctx       context.Context
	api       *fake.EC2API
	siteAgent *ec2.SiteAgent
)

func TestEC2(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "EC2")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	api = &fake.EC2API{}
	siteAgent = ec2.NewSiteAgent(api, siteConfig())
})

func siteConfig() config.Site {
	return config.Site{
		Name:    "testsite",
		Adapter: "EC2",
		Options: map[string]string{
			"image_id":           "ami-0123456789abcdef0",
			"instance_type":      "m5.xlarge",
			"subnet_id":          "subnet-0123",
			"security_group_ids": "sg-1, sg-2",
		},
	}
}

var _ = Describe("DeployResource", func() {
	It("should launch an instance keyed by the drone uuid", func() {
		attributes, err := siteAgent.DeployResource(ctx, "testsite-0123456789")
		Expect(err).ToNot(HaveOccurred())
		Expect(attributes.ResourceID).To(Equal("i-testsite-0123456789"))
		Expect(attributes.DNSName).To(Equal("ip-testsite-0123456789.internal"))
		Expect(attributes.ResourceStatus).To(Equal(agents.ResourceStatusBooting))

		calls := api.RunInstancesCalls()
		Expect(calls).To(HaveLen(1))
		Expect(aws.ToString(calls[0].ClientToken)).To(Equal("testsite-0123456789"))
		Expect(aws.ToString(calls[0].ImageId)).To(Equal("ami-0123456789abcdef0"))
		Expect(calls[0].InstanceType).To(Equal(ec2types.InstanceType("m5.xlarge")))
		Expect(aws.ToString(calls[0].SubnetId)).To(Equal("subnet-0123"))
		Expect(calls[0].SecurityGroupIds).To(Equal([]string{"sg-1", "sg-2"}))
		Expect(aws.ToInt32(calls[0].MinCount)).To(Equal(int32(1)))
		Expect(aws.ToInt32(calls[0].MaxCount)).To(Equal(int32(1)))
	})
	It("should classify credential rejections as auth errors", func() {
		api.RunInstancesError.Set(&smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "not allowed"})
		_, err := siteAgent.DeployResource(ctx, "testsite-0123456789")
		Expect(tardiserrors.IsAuthError(err)).To(BeTrue())
	})
	It("should classify breached deadlines as timeouts", func() {
		api.RunInstancesError.Set(context.DeadlineExceeded)
		_, err := siteAgent.DeployResource(ctx, "testsite-0123456789")
		Expect(tardiserrors.IsTimeout(err)).To(BeTrue())
	})
	It("should classify other failures as site errors", func() {
		api.RunInstancesError.Set(&smithy.GenericAPIError{Code: "InsufficientInstanceCapacity", Message: "no capacity"})
		_, err := siteAgent.DeployResource(ctx, "testsite-0123456789")
		Expect(tardiserrors.IsAuthError(err)).To(BeFalse())
		Expect(tardiserrors.IsTimeout(err)).To(BeFalse())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ResourceStatus", func() {
	attributes := agents.ResourceAttributes{ResourceID: "i-01234", DNSName: "ip-01234.internal"}

	It("should map instance states onto resource statuses", func() {
		for state, expected := range map[ec2types.InstanceStateName]agents.ResourceStatus{
			ec2types.InstanceStateNamePending:      agents.ResourceStatusBooting,
			ec2types.InstanceStateNameRunning:      agents.ResourceStatusRunning,
			ec2types.InstanceStateNameStopping:     agents.ResourceStatusStopped,
			ec2types.InstanceStateNameStopped:      agents.ResourceStatusStopped,
			ec2types.InstanceStateNameShuttingDown: agents.ResourceStatusDeleted,
			ec2types.InstanceStateNameTerminated:   agents.ResourceStatusDeleted,
		} {
			api.DescribeInstancesOutput.Set(&awsec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{
					Instances: []ec2types.Instance{{
						InstanceId:     aws.String("i-01234"),
						PrivateDnsName: aws.String("ip-01234.internal"),
						State:          &ec2types.InstanceState{Name: state},
					}},
				}},
			})
			updated, err := siteAgent.ResourceStatus(ctx, attributes)
			Expect(err).ToNot(HaveOccurred())
			Expect(updated.ResourceStatus).To(Equal(expected), string(state))
			Expect(updated.ResourceID).To(Equal("i-01234"))
		}
	})
	It("should report a vanished instance as Deleted", func() {
		api.DescribeInstancesError.Set(&smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "gone"})
		updated, err := siteAgent.ResourceStatus(ctx, attributes)
		Expect(err).ToNot(HaveOccurred())
		Expect(updated.ResourceStatus).To(Equal(agents.ResourceStatusDeleted))
	})
	It("should report an empty reservation list as Deleted", func() {
		updated, err := siteAgent.ResourceStatus(ctx, attributes)
		Expect(err).ToNot(HaveOccurred())
		Expect(updated.ResourceStatus).To(Equal(agents.ResourceStatusDeleted))
	})
})

var _ = Describe("StopResource and TerminateResource", func() {
	attributes := agents.ResourceAttributes{ResourceID: "i-01234"}

	It("should stop and terminate by instance id", func() {
		Expect(siteAgent.StopResource(ctx, attributes)).To(Succeed())
		Expect(siteAgent.TerminateResource(ctx, attributes)).To(Succeed())
		Expect(api.StoppedInstances()).To(Equal([]string{"i-01234"}))
		Expect(api.TerminatedInstances()).To(Equal([]string{"i-01234"}))
	})
	It("should treat stopping an already stopped instance as success", func() {
		api.StopInstancesError.Set(&smithy.GenericAPIError{Code: "IncorrectInstanceState", Message: "already stopped"})
		Expect(siteAgent.StopResource(ctx, attributes)).To(Succeed())
	})
	It("should treat stopping a vanished instance as success", func() {
		api.StopInstancesError.Set(&smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "gone"})
		Expect(siteAgent.StopResource(ctx, attributes)).To(Succeed())
	})
	It("should treat terminating a vanished instance as success", func() {
		api.TerminateInstancesError.Set(&smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "gone"})
		Expect(siteAgent.TerminateResource(ctx, attributes)).To(Succeed())
	})
	It("should propagate other termination failures", func() {
		api.TerminateInstancesError.Set(&smithy.GenericAPIError{Code: "InternalError", Message: "broken"})
		Expect(siteAgent.TerminateResource(ctx, attributes)).ToNot(Succeed())
	})
})
