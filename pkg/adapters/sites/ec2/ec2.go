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

package ec2

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/matterminers/tardis/pkg/agents"
	"github.com/matterminers/tardis/pkg/config"
	tardiserrors "github.com/matterminers/tardis/pkg/errors"
)

const requestTimeout = 30 * time.Second

var (
	authErrorCodes = sets.New[string](
		"AuthFailure",
		"UnauthorizedOperation",
		"AccessDenied",
		"AccessDeniedException",
		"RequestExpired",
	)
	notFoundErrorCodes = sets.New[string](
		"InvalidInstanceID.NotFound",
		"InvalidInstanceID.Malformed",
	)
	// resourceStatus maps EC2 instance states onto the site-side status
	// enum. A vanished instance reads as Deleted.
	resourceStatus = map[ec2types.InstanceStateName]agents.ResourceStatus{
		ec2types.InstanceStateNamePending:      agents.ResourceStatusBooting,
		ec2types.InstanceStateNameRunning:      agents.ResourceStatusRunning,
		ec2types.InstanceStateNameStopping:     agents.ResourceStatusStopped,
		ec2types.InstanceStateNameStopped:      agents.ResourceStatusStopped,
		ec2types.InstanceStateNameShuttingDown: agents.ResourceStatusDeleted,
		ec2types.InstanceStateNameTerminated:   agents.ResourceStatusDeleted,
	}
)

// API is the subset of the EC2 API the site agent consumes.
type API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// SiteAgent drives drone resources as EC2 instances. Launch parameters come
// from the site's opaque option bag; the drone uuid doubles as the EC2
// client token, which makes DeployResource idempotent.
type SiteAgent struct {
	api      API
	siteName string

	imageID          string
	instanceType     string
	subnetID         string
	securityGroupIDs []string
}

func NewSiteAgent(api API, cfg config.Site) *SiteAgent {
	agent := &SiteAgent{
		api:          api,
		siteName:     cfg.Name,
		imageID:      cfg.Options["image_id"],
		instanceType: cfg.Options["instance_type"],
		subnetID:     cfg.Options["subnet_id"],
	}
	if groups := cfg.Options["security_group_ids"]; groups != "" {
		agent.securityGroupIDs = lo.Map(strings.Split(groups, ","), func(g string, _ int) string {
			return strings.TrimSpace(g)
		})
	}
	return agent
}

// NewSiteAgentFromConfig builds the agent with a real EC2 client resolved
// from the ambient AWS credential chain.
func NewSiteAgentFromConfig(ctx context.Context, cfg config.Site) (*SiteAgent, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Options["region"]))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration, %w", err)
	}
	return NewSiteAgent(ec2.NewFromConfig(awsCfg), cfg), nil
}

func (s *SiteAgent) SiteName() string {
	return s.siteName
}

func (s *SiteAgent) DeployResource(ctx context.Context, uniqueID string) (agents.ResourceAttributes, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	output, err := s.api.RunInstances(ctx, &ec2.RunInstancesInput{
		ClientToken:      aws.String(uniqueID),
		ImageId:          aws.String(s.imageID),
		InstanceType:     ec2types.InstanceType(s.instanceType),
		SubnetId:         lo.Ternary(s.subnetID != "", aws.String(s.subnetID), nil),
		SecurityGroupIds: s.securityGroupIDs,
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{
				{Key: aws.String("Name"), Value: aws.String(uniqueID)},
				{Key: aws.String("managed-by"), Value: aws.String("tardis")},
			},
		}},
	})
	if err != nil {
		return agents.ResourceAttributes{}, classify(err)
	}
	if len(output.Instances) == 0 {
		return agents.ResourceAttributes{}, tardiserrors.NewSiteError(fmt.Errorf("RunInstances returned no instance for %s", uniqueID))
	}
	instance := output.Instances[0]
	return attributesOf(instance), nil
}

func (s *SiteAgent) ResourceStatus(ctx context.Context, attributes agents.ResourceAttributes) (agents.ResourceAttributes, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	output, err := s.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{attributes.ResourceID},
	})
	if err != nil {
		if isNotFound(err) {
			attributes.ResourceStatus = agents.ResourceStatusDeleted
			return attributes, nil
		}
		return agents.ResourceAttributes{}, classify(err)
	}
	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			return attributes.Merge(attributesOf(instance)), nil
		}
	}
	attributes.ResourceStatus = agents.ResourceStatusDeleted
	return attributes, nil
}

func (s *SiteAgent) StopResource(ctx context.Context, attributes agents.ResourceAttributes) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	_, err := s.api.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{attributes.ResourceID},
	})
	if err != nil && !isNotFound(err) && !isIncorrectState(err) {
		return classify(err)
	}
	return nil
}

func (s *SiteAgent) TerminateResource(ctx context.Context, attributes agents.ResourceAttributes) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	_, err := s.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{attributes.ResourceID},
	})
	if err != nil && !isNotFound(err) {
		return classify(err)
	}
	return nil
}

func attributesOf(instance ec2types.Instance) agents.ResourceAttributes {
	attributes := agents.ResourceAttributes{
		ResourceID: lo.FromPtr(instance.InstanceId),
		DNSName:    lo.FromPtr(instance.PrivateDnsName),
	}
	if instance.State != nil {
		attributes.ResourceStatus = resourceStatus[instance.State.Name]
	}
	if instance.Placement != nil && instance.Placement.AvailabilityZone != nil {
		attributes.Extra = map[string]string{
			"availability_zone": lo.FromPtr(instance.Placement.AvailabilityZone),
			"instance_type":     string(instance.InstanceType),
		}
	}
	return attributes
}

// classify folds AWS API failures into the agent error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes.Has(apiErr.ErrorCode()) {
		return tardiserrors.NewAuthError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return tardiserrors.NewTimeoutError(err)
	}
	return tardiserrors.NewSiteError(err)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && notFoundErrorCodes.Has(apiErr.ErrorCode())
}

func isIncorrectState(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "IncorrectInstanceState"
}
