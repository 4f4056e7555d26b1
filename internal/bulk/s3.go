package bulk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores a finished backup somewhere outside the database.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

var ErrNoUploader = errors.New("backup upload is not configured")

// seams for tests
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3PutAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // MinIO и прочие S3-совместимые
	AccessKey string
	SecretKey string
}

type S3Uploader struct {
	client s3PutAPI
	bucket string
}

func NewS3Uploader(ctx context.Context, c S3Config) (*S3Uploader, error) {
	if c.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}
	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}
	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{client: client, bucket: c.Bucket}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s/%s: %w", u.bucket, key, err)
	}
	return nil
}

// BackupKey is backups/YYYY/MM/DD/dsc-backup-<timestamp>.json.
func BackupKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("backups/%s/dsc-backup-%s.json", t.Format("2006/01/02"), t.Format("20060102T150405Z"))
}

// UploadBackup exports the JSON backup and hands it to the configured uploader.
func (s *Service) UploadBackup(ctx context.Context, now time.Time) (string, error) {
	if s.uploader == nil {
		return "", ErrNoUploader
	}
	var buf bytes.Buffer
	if err := s.ExportJSON(ctx, &buf); err != nil {
		return "", err
	}
	key := BackupKey(now)
	if err := s.uploader.Upload(ctx, key, buf.Bytes(), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}
