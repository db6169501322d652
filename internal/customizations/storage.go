package customizations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrStorageDisabled is returned by the object store when no bucket is configured.
var ErrStorageDisabled = errors.New("customizations: object storage disabled")

// ObjectStore holds profile images and hands out short-lived URLs for them.
type ObjectStore interface {
	PresignGet(ctx context.Context, key string) (string, error)
	PresignPut(ctx context.Context, key, contentType string) (string, time.Time, error)
	Delete(ctx context.Context, key string) error
}

// S3Config locates an S3-compatible bucket (AWS, R2, MinIO).
type S3Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	URLTTL          time.Duration
}

// S3Store is an ObjectStore backed by aws-sdk-go-v2.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
	now     func() time.Time
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// provided; otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, ErrStorageDisabled
	}
	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("customizations: load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if endpoint != "" {
			options.BaseEndpoint = aws.String(endpoint)
			options.UsePathStyle = true
		}
	})
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client, s3.WithPresignExpires(ttl)),
		bucket:  bucket,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string) (string, error) {
	request, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("customizations: presign get %q: %w", key, err)
	}
	return request.URL, nil
}

func (s *S3Store) PresignPut(ctx context.Context, key, contentType string) (string, time.Time, error) {
	request, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("customizations: presign put %q: %w", key, err)
	}
	return request.URL, s.now().Add(s.ttl), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("customizations: delete %q: %w", key, err)
	}
	return nil
}

type disabledStore struct{}

// NewDisabledStore returns the ObjectStore used when no bucket is configured.
func NewDisabledStore() ObjectStore {
	return disabledStore{}
}

func (disabledStore) PresignGet(context.Context, string) (string, error) {
	return "", ErrStorageDisabled
}

func (disabledStore) PresignPut(context.Context, string, string) (string, time.Time, error) {
	return "", time.Time{}, ErrStorageDisabled
}

func (disabledStore) Delete(context.Context, string) error {
	return ErrStorageDisabled
}
