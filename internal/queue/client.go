// Package queue is the SQS transport shared by the dispatch, ingest and
// mlconfig services: one client, thin publisher/consumer wrappers around it.
package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/northcell/conversation-cdc/internal/config"
)

// NewClient creates the shared SQS client. Static credentials take
// precedence when configured; otherwise the default provider chain applies.
func NewClient(ctx context.Context, cfg appconfig.AWSConfig) (*sqs.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}
