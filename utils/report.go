// utils/report.go
package utils

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the part of the S3 client the report store needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ReportStore writes sweep reports to an S3-compatible bucket.
type ReportStore struct {
	Client ObjectPutter
	Bucket string
}

type ReportStoreConfig struct {
	Bucket          string
	Endpoint        string // empty means AWS itself
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewReportStore builds an S3 client. Static credentials and a custom endpoint
// are used when given (R2, MinIO), otherwise the default AWS chain.
func NewReportStore(ctx context.Context, cfg ReportStoreConfig) (*ReportStore, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load report storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &ReportStore{Client: client, Bucket: cfg.Bucket}, nil
}

func (r *ReportStore) PutReport(ctx context.Context, key string, body []byte) error {
	_, err := r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report %s: %w", key, err)
	}
	return nil
}
