package reporter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dreamup/checkin-agent/internal/agent"
	"github.com/dreamup/checkin-agent/internal/captcha"
)

// Defaults used when neither arguments nor environment name a bucket/region
const (
	DefaultBucket = "checkin-agent-artifacts"
	DefaultRegion = "us-east-1"
)

// ObjectPutter is the part of the S3 client the uploader needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader handles uploading reports and challenge samples to S3
type S3Uploader struct {
	client     ObjectPutter
	bucketName string
	region     string
	retry      agent.RetryConfig
	now        func() time.Time
}

var _ captcha.SampleSink = (*S3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader using the default AWS credential chain
func NewS3Uploader(ctx context.Context, bucketName, region string) (*S3Uploader, error) {
	if bucketName == "" {
		bucketName = os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			bucketName = DefaultBucket
		}
	}

	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = DefaultRegion
		}
	}

	// Load AWS config
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3UploaderWithClient(s3.NewFromConfig(cfg), bucketName, region), nil
}

// NewS3UploaderWithClient creates an uploader around an existing client
func NewS3UploaderWithClient(client ObjectPutter, bucketName, region string) *S3Uploader {
	return &S3Uploader{
		client:     client,
		bucketName: bucketName,
		region:     region,
		retry:      agent.StorageRetryConfig(),
		now:        time.Now,
	}
}

// Bucket returns the bucket objects are written to
func (u *S3Uploader) Bucket() string {
	return u.bucketName
}

// UploadFile uploads a file to S3 and returns its URL. Transient failures
// are retried.
func (u *S3Uploader) UploadFile(ctx context.Context, path, s3Key string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return u.UploadBytes(ctx, data, s3Key, contentType(path))
}

// UploadBytes uploads data under s3Key and returns its URL
func (u *S3Uploader) UploadBytes(ctx context.Context, data []byte, s3Key, contentType string) (string, error) {
	err := agent.Retry(ctx, u.retry, func() error {
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucketName),
			Key:         aws.String(s3Key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return agent.NewStorageError(fmt.Sprintf("failed to upload %s", s3Key), err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return u.objectURL(s3Key), nil
}

func (u *S3Uploader) objectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucketName, u.region, key)
}

// contentType determines content type from file extension
func contentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// UploadReport saves report to a temp file and uploads it to
// reports/{id}/report.json
func (u *S3Uploader) UploadReport(ctx context.Context, report *Report) (string, error) {
	reportPath, err := report.SaveToDir("")
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	defer os.Remove(reportPath)

	url, err := u.UploadFile(ctx, reportPath, reportKey(report.ReportID))
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}
	return url, nil
}

// UploadScreenshot uploads a failure screenshot next to its report
func (u *S3Uploader) UploadScreenshot(ctx context.Context, screenshot *agent.Screenshot, reportID string) (string, error) {
	s3Key := fmt.Sprintf("reports/%s/screenshots/%s_%s.png",
		reportID,
		screenshot.Context,
		screenshot.Timestamp.Format("20060102_150405"),
	)
	if screenshot.Filepath == "" {
		return u.UploadBytes(ctx, screenshot.Data, s3Key, "image/png")
	}
	return u.UploadFile(ctx, screenshot.Filepath, s3Key)
}

// Archive implements captcha.SampleSink by uploading the files of a failed
// attempt to samples/{date}/{attemptID}/{name}.
func (u *S3Uploader) Archive(ctx context.Context, attemptID string, files map[string]string) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	prefix := fmt.Sprintf("samples/%s/%s", u.now().UTC().Format("2006-01-02"), attemptID)
	for _, name := range names {
		if _, err := u.UploadFile(ctx, files[name], prefix+"/"+name); err != nil {
			return fmt.Errorf("failed to archive sample %s: %w", name, err)
		}
	}
	slog.Debug("archived captcha sample", "attempt_id", attemptID, "files", len(names))
	return nil
}

// GetReportURL returns the S3 URL for a report
func (u *S3Uploader) GetReportURL(reportID string) string {
	return u.objectURL(reportKey(reportID))
}

func reportKey(reportID string) string {
	return fmt.Sprintf("reports/%s/report.json", reportID)
}
