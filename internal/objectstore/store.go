// Package objectstore reads and writes the JSON configuration artifacts the
// ML pipeline loads from S3. It satisfies mlconfig.ObjectStore.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/northcell/conversation-cdc/internal/config"
)

// Store is an S3-backed JSON artifact store.
type Store struct {
	client *s3.Client
	bucket string
}

// New creates a Store bound to one bucket. Bucket access is verified but
// failure only warns; the bucket may be provisioned after the service.
func New(ctx context.Context, awsCfg appconfig.AWSConfig, bucket string) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(awsCfg.Region)}
	if awsCfg.AccessKey != "" && awsCfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(awsCfg.AccessKey, awsCfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		log.Printf("objectstore: warning: bucket access check failed for %s: %v", bucket, err)
	}

	return &Store{client: client, bucket: bucket}, nil
}

// GetJSON fetches key and unmarshals it into v.
func (s *Store) GetJSON(ctx context.Context, key string, v any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// PutJSON marshals v (indented, so the artifact stays hand-editable) and
// writes it to key.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
