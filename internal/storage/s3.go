package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type S3Options struct {
	Region         string
	Endpoint       string // optional; for S3-compatible services
	ForcePathStyle bool
	// Credentials overrides the shared config chain when set.
	Credentials *credentials.Credentials
}

// S3Store uploads objects with PutObject, which replaces any existing object.
type S3Store struct {
	svc      *s3.S3
	region   string
	endpoint string
}

func NewS3Store(opts S3Options) (*S3Store, error) {
	awsCfg := aws.NewConfig().WithS3ForcePathStyle(opts.ForcePathStyle)
	if opts.Region != "" {
		awsCfg = awsCfg.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(opts.Endpoint)
	}
	if opts.Credentials != nil {
		awsCfg = awsCfg.WithCredentials(opts.Credentials)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &S3Store{
		svc:      s3.New(sess),
		region:   opts.Region,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := validateKey(bucket, key); err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.svc.PutObjectWithContext(ctx, input); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return s.objectURL(bucket, key), nil
}

func (s *S3Store) objectURL(bucket, key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, bucket, key)
	}
	if s.region != "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
}
