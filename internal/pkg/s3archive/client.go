// Package s3archive stores payout run reports in an S3 compatible bucket.
package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TipQueue/internal/pkg/config"
	"github.com/ManuelReschke/TipQueue/internal/pkg/env"
	"github.com/ManuelReschke/TipQueue/internal/pkg/payouts"
)

var ErrDisabled = errors.New("run report archive is disabled")

// objectAPI is the part of the S3 client the archive uses.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Client writes payout run reports as JSON objects.
type Client struct {
	s3     objectAPI
	cfg    config.Archive
	prefix string
}

// Validate checks the settings required when the archive is enabled.
func Validate(cfg config.Archive) error {
	if !cfg.Enabled {
		return ErrDisabled
	}
	if cfg.AccessKeyID == "" {
		return errors.New("S3_ACCESS_KEY_ID is required when the archive is enabled")
	}
	if cfg.SecretAccessKey == "" {
		return errors.New("S3_SECRET_ACCESS_KEY is required when the archive is enabled")
	}
	if cfg.BucketName == "" {
		return errors.New("S3_BUCKET_NAME is required when the archive is enabled")
	}
	return nil
}

// NewClient connects to the configured bucket.
func NewClient(ctx context.Context, cfg config.Archive) (*Client, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible services (MinIO, B2) need path-style URLs
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	client := newClient(s3Client, cfg)
	if err := client.testConnection(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[S3Archive] Archiving payout runs to s3://%s/%s", cfg.BucketName, client.prefix)
	return client, nil
}

func newClient(api objectAPI, cfg config.Archive) *Client {
	return &Client{s3: api, cfg: cfg, prefix: strings.Trim(cfg.Prefix, "/")}
}

// testConnection checks the bucket exists and creates it outside production.
func (c *Client) testConnection(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.cfg.BucketName)})
	if err == nil {
		return nil
	}
	if !env.IsDev() {
		return fmt.Errorf("bucket %s not accessible: %w", c.cfg.BucketName, err)
	}

	log.Warnf("[S3Archive] Bucket %s not found, attempting to create it", c.cfg.BucketName)
	input := &s3.CreateBucketInput{Bucket: aws.String(c.cfg.BucketName)}
	// us-east-1 and custom endpoints take no location constraint
	if c.cfg.EndpointURL == "" && c.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.cfg.Region),
		}
	}
	if _, err := c.s3.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.cfg.BucketName, err)
	}
	return nil
}

// ObjectKey returns the key of a run report: <prefix>/<YYYY-MM>/<started>.json
func (c *Client) ObjectKey(res *payouts.RunResult) string {
	name := res.Period.Key() + "/" + res.StartedAt.UTC().Format("20060102T150405Z") + ".json"
	if c.prefix == "" {
		return name
	}
	return c.prefix + "/" + name
}

// ArchiveRun uploads the run result as JSON.
func (c *Client) ArchiveRun(ctx context.Context, res *payouts.RunResult) error {
	if res == nil {
		return errors.New("nil run result")
	}
	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}

	key := c.ObjectKey(res)
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"period":        res.Period.Key(),
			"fee-policy":    res.FeePolicy,
			"upload-source": "tipqueue-payouts",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	log.Infof("[S3Archive] Archived payout run %s to s3://%s/%s", res.Period.Key(), c.cfg.BucketName, key)
	return nil
}

// ListRuns returns the report keys archived for a month, oldest first.
func (c *Client) ListRuns(ctx context.Context, periodKey string) ([]string, error) {
	prefix := periodKey + "/"
	if c.prefix != "" {
		prefix = c.prefix + "/" + prefix
	}

	var keys []string
	var token *string
	for {
		out, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.cfg.BucketName),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// FetchRun downloads and decodes one archived report.
func (c *Client) FetchRun(ctx context.Context, key string) (*payouts.RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("report %s not found: %w", key, err)
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	var res payouts.RunResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &res, nil
}
