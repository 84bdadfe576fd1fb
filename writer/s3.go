package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"cryptomonitor/logger"
	"cryptomonitor/models"
)

// Object body formats.
const (
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the bucket and how to reach it.
type S3Config struct {
	Bucket          string
	Prefix          string
	Format          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// S3Archiver uploads each record as one object keyed like the file archive.
type S3Archiver struct {
	cfg    S3Config
	client ObjectPutter
	now    func() time.Time
	log    *logger.Log
}

// S3Option customises an S3Archiver.
type S3Option func(*S3Archiver)

// WithS3Clock sets the clock used for object keys.
func WithS3Clock(now func() time.Time) S3Option {
	return func(a *S3Archiver) { a.now = now }
}

// NewS3Archiver creates an S3Archiver uploading through client.
func NewS3Archiver(cfg S3Config, client ObjectPutter, opts ...S3Option) *S3Archiver {
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	a := &S3Archiver{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		log:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *S3Archiver) Name() string { return SinkS3 }

// Key returns the object key for a cycle at t.
func (a *S3Archiver) Key(t time.Time) string {
	key := archiveKey(t, a.cfg.Format)
	if a.cfg.Prefix != "" {
		key = path.Join(a.cfg.Prefix, key)
	}
	return key
}

// Archive encodes record in the configured format and uploads it.
func (a *S3Archiver) Archive(ctx context.Context, record models.QuoteRecord) error {
	key := a.Key(a.now())
	archiveID := uuid.New().String()
	log := a.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"bucket":     a.cfg.Bucket,
		"s3_key":     key,
		"archive_id": archiveID,
	})

	body, contentType, err := a.encode(record)
	if err != nil {
		log.WithError(err).Error("failed to encode archive object")
		return &ArchiveError{Sink: SinkS3, Stage: StageEncode, Err: err}
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"archive-id": archiveID,
			"currency":   record.Currency,
			"coins":      strconv.Itoa(len(record.Quotes)),
			"format":     a.cfg.Format,
		},
	})
	if err != nil {
		log.WithError(err).WithEnv("S3_BUCKET").Error("failed to upload to S3")
		return &ArchiveError{Sink: SinkS3, Stage: StageUpload, Err: fmt.Errorf("upload to bucket %s: %w", a.cfg.Bucket, err)}
	}

	log.WithFields(logger.Fields{"bytes": len(body)}).Debug("uploaded archive object")
	return nil
}

func (a *S3Archiver) encode(record models.QuoteRecord) ([]byte, string, error) {
	switch a.cfg.Format {
	case FormatJSON:
		data, err := json.Marshal(record)
		return data, "application/json", err
	case FormatParquet:
		data, err := EncodeParquet(record)
		return data, "application/octet-stream", err
	default:
		return nil, "", fmt.Errorf("unsupported object format %q", a.cfg.Format)
	}
}
