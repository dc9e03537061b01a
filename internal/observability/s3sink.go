package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gaud-proxy/gaud/internal/budget"
)

// S3SinkConfig configures where usage batches are archived.
type S3SinkConfig struct {
	BucketName  string
	Region      string
	AccessKeyID string
	SecretKey   string
	Endpoint    string // custom endpoint, for MinIO and similar
	PathPrefix  string
}

// S3Sink implements budget.UsageSink by archiving each flushed batch as a
// newline-delimited JSON object under a date-partitioned key. It does not
// touch budget counters — pair it with the primary store through
// budget.MultiSink so accounting still happens on every write.
type S3Sink struct {
	cfg    S3SinkConfig
	client *s3.Client
}

// NewS3Sink builds an AWS config and S3 client from cfg.
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("observability: s3 sink requires a bucket name")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Sink{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// WriteUsageBatch implements budget.UsageSink.
func (s *S3Sink) WriteUsageBatch(ctx context.Context, entries []budget.UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			return fmt.Errorf("observability: encode usage entry: %w", err)
		}
	}

	key := s.key(time.Now().UTC())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("observability: upload usage batch: %w", err)
	}
	return nil
}

// key partitions objects by UTC date so a bucket lifecycle rule can expire
// old partitions without listing the whole bucket.
func (s *S3Sink) key(t time.Time) string {
	datePrefix := fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d",
		t.Year(), t.Month(), t.Day(), t.Hour())
	filename := fmt.Sprintf("usage_%d.jsonl", t.UnixNano())
	if s.cfg.PathPrefix != "" {
		return path.Join(s.cfg.PathPrefix, datePrefix, filename)
	}
	return path.Join(datePrefix, filename)
}
