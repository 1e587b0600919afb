package services

import (
	"context"
	"errors"
	"fmt"
	"game-session-system/models"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// ProvisionedInstance is what a platform hands back for a new session server.
type ProvisionedInstance struct {
	Endpoint models.Endpoint
	Ref      string
}

// Provisioner starts new session-hosting instances.
type Provisioner interface {
	Provision(ctx context.Context) (ProvisionedInstance, error)
}

// StaticProvisioner always answers with the same endpoint. Used for local
// development where a single gamehub process serves every match.
type StaticProvisioner struct {
	Endpoint models.Endpoint
}

func (p StaticProvisioner) Provision(ctx context.Context) (ProvisionedInstance, error) {
	if err := ctx.Err(); err != nil {
		return ProvisionedInstance{}, err
	}
	if p.Endpoint.Host == "" || p.Endpoint.Port <= 0 {
		return ProvisionedInstance{}, errors.New("static provisioner has no endpoint configured")
	}
	return ProvisionedInstance{Endpoint: p.Endpoint, Ref: "static"}, nil
}

// ECSAPI is the subset of the ECS client used for provisioning.
type ECSAPI interface {
	ecs.DescribeTasksAPIClient
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// ECSProvisioner runs one gamehub task per instance on an ECS cluster.
type ECSProvisioner struct {
	Client         ECSAPI
	Cluster        string
	TaskDefinition string
	Subnets        []string
	SecurityGroups []string
	Port           int
	WaitTimeout    time.Duration
	Logger         *slog.Logger
}

func (p *ECSProvisioner) Provision(ctx context.Context) (ProvisionedInstance, error) {
	group := slug.Make(fmt.Sprintf("gamehub %s", uuid.NewString()[:8]))

	input := &ecs.RunTaskInput{
		Cluster:        aws.String(p.Cluster),
		TaskDefinition: aws.String(p.TaskDefinition),
		Count:          aws.Int32(1),
		Group:          aws.String(group),
		LaunchType:     ecstypes.LaunchTypeFargate,
	}
	if len(p.Subnets) > 0 {
		input.NetworkConfiguration = &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        p.Subnets,
				SecurityGroups: p.SecurityGroups,
				AssignPublicIp: ecstypes.AssignPublicIpDisabled,
			},
		}
	}

	out, err := p.Client.RunTask(ctx, input)
	if err != nil {
		return ProvisionedInstance{}, fmt.Errorf("run task: %w", err)
	}
	if len(out.Failures) > 0 {
		reasons := make([]string, 0, len(out.Failures))
		for _, f := range out.Failures {
			reasons = append(reasons, fmt.Sprintf("%s: %s", aws.ToString(f.Arn), aws.ToString(f.Reason)))
		}
		return ProvisionedInstance{}, fmt.Errorf("run task failed: %s", strings.Join(reasons, "; "))
	}
	if len(out.Tasks) == 0 || out.Tasks[0].TaskArn == nil {
		return ProvisionedInstance{}, errors.New("run task returned no task")
	}
	taskArn := aws.ToString(out.Tasks[0].TaskArn)

	timeout := p.WaitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	describe := &ecs.DescribeTasksInput{Cluster: aws.String(p.Cluster), Tasks: []string{taskArn}}
	if err := ecs.NewTasksRunningWaiter(p.Client).Wait(ctx, describe, timeout); err != nil {
		return ProvisionedInstance{}, fmt.Errorf("wait for task %s: %w", taskArn, err)
	}

	desc, err := p.Client.DescribeTasks(ctx, describe)
	if err != nil {
		return ProvisionedInstance{}, fmt.Errorf("describe task %s: %w", taskArn, err)
	}
	if len(desc.Tasks) == 0 {
		return ProvisionedInstance{}, fmt.Errorf("task %s disappeared", taskArn)
	}
	host := taskPrivateIP(desc.Tasks[0])
	if host == "" {
		return ProvisionedInstance{}, fmt.Errorf("task %s has no private address", taskArn)
	}

	if p.Logger != nil {
		p.Logger.Info("provisioned gamehub task", "task", taskArn, "group", group, "host", host, "port", p.Port)
	}
	return ProvisionedInstance{
		Endpoint: models.Endpoint{Host: host, Port: p.Port},
		Ref:      taskArn,
	}, nil
}

func taskPrivateIP(task ecstypes.Task) string {
	for _, att := range task.Attachments {
		for _, d := range att.Details {
			if aws.ToString(d.Name) == "privateIPv4Address" {
				return aws.ToString(d.Value)
			}
		}
	}
	return ""
}
