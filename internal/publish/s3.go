package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for S3 publishing.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
	KeyPrefix       string // Optional: object key prefix, defaults to "loops"
	URLTTL          time.Duration
}

// S3Publisher uploads artifacts to S3 and returns presigned GET URLs so the
// bucket can stay private.
type S3Publisher struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
}

// NewS3Publisher creates an S3Publisher. A zero URLTTL defaults to 15
// minutes; artifacts are meant to be fetched promptly, not hosted.
func NewS3Publisher(cfg S3Config) (*S3Publisher, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "loops"
	}

	return &S3Publisher{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  prefix,
		ttl:     ttl,
	}, nil
}

// Publish uploads the file and returns a presigned URL valid for the
// configured TTL.
func (p *S3Publisher) Publish(ctx context.Context, path string) (Artifact, error) {
	f, err := os.Open(path) // #nosec G304 - path is produced by the orchestrator
	if err != nil {
		return Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(path)
	key := p.prefix + "/" + name

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("upload to S3: %w", err)
	}

	signed, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return Artifact{}, fmt.Errorf("presign artifact URL: %w", err)
	}

	return Artifact{
		URL:       signed.URL,
		ExpiresAt: time.Now().Add(p.ttl),
		Name:      name,
	}, nil
}
