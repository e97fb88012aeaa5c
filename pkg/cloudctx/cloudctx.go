// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package cloudctx enriches a scan with best-effort cloud environment
// context. It never blocks a scan: failure to reach the instance metadata
// service (because the host isn't EC2, or has no route to it) yields a
// nil CloudContext rather than an error.
package cloudctx

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/go-logr/logr"

	"github.com/antimetal/pcidiag/pkg/pci"
)

// Client discovers the region, instance ID and instance type of the EC2
// instance pcidiag is running on, via the instance metadata service and,
// for the instance type, a DescribeInstances call.
type Client struct {
	logger     logr.Logger
	imdsClient *imds.Client
	ec2Client  *ec2.Client
}

// New loads the default AWS configuration and returns a Client backed by
// an IMDS client and an EC2 client. It does not itself contact either; a
// later Discover call does, and is what actually tells us whether we're on
// EC2 at all.
func New(ctx context.Context, logger logr.Logger) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading default AWS config for IMDS client: %w", err)
	}
	return &Client{
		logger:     logger.WithName("cloudctx"),
		imdsClient: imds.NewFromConfig(cfg),
		ec2Client:  ec2.NewFromConfig(cfg),
	}, nil
}

// Discover returns the host's region, instance ID and instance type, or
// nil if the host is not identifiable as an EC2 instance (IMDS unreachable
// or disabled).
func (c *Client) Discover(ctx context.Context) *pci.CloudContext {
	regionResp, err := c.imdsClient.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		c.logger.V(1).Info("not running on EC2, skipping cloud context enrichment", "err", err)
		return nil
	}

	docResp, err := c.imdsClient.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		c.logger.V(1).Info("could not read instance identity document", "err", err)
		return &pci.CloudContext{Region: regionResp.Region}
	}

	cloudCtx := &pci.CloudContext{
		Region:     regionResp.Region,
		InstanceID: docResp.InstanceID,
	}

	instanceType, err := c.describeInstanceType(ctx, docResp.InstanceID)
	if err != nil {
		c.logger.V(1).Info("could not describe instance type", "err", err)
		return cloudCtx
	}
	cloudCtx.InstanceType = instanceType

	return cloudCtx
}

// describeInstanceType looks up the instance type of instanceID via the
// EC2 API, mirroring the EC2-describe pattern used to resolve tags beyond
// what the instance identity document carries.
func (c *Client) describeInstanceType(ctx context.Context, instanceID string) (string, error) {
	resp, err := c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", fmt.Errorf("cannot describe instance %s: %w", instanceID, err)
	}

	if len(resp.Reservations) != 1 || len(resp.Reservations[0].Instances) != 1 {
		return "", fmt.Errorf("expected 1 EC2 instance for %s, got %d reservations", instanceID, len(resp.Reservations))
	}

	return string(resp.Reservations[0].Instances[0].InstanceType), nil
}
