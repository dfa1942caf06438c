package publish

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/breeze-rmm/netmetrics/internal/logging"
	"github.com/breeze-rmm/netmetrics/internal/report"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config names the bucket reports are archived to. Static keys are
// optional; without them the default AWS credential chain applies.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Sink archives each JSON report as <prefix>/<report_id>.json.
type S3Sink struct {
	bucket   string
	prefix   string
	uploader uploader
}

func NewS3Sink(ctx context.Context, c S3Config) (*S3Sink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Sink{
		bucket:   c.Bucket,
		prefix:   c.Prefix,
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
	}, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) key(r *report.Report) string {
	return path.Join(s.prefix, fmt.Sprintf("%d.json", r.Header.ReportID))
}

func (s *S3Sink) Publish(ctx context.Context, r *report.Report) error {
	body, err := report.Marshal(r)
	if err != nil {
		return err
	}
	key := s.key(r)
	start := time.Now()
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	logging.FromContext(ctx).Debug("report archived",
		logging.KeySink, s.Name(),
		logging.KeyReportID, r.Header.ReportID,
		"key", key,
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return nil
}
