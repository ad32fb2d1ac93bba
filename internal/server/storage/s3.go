// Package storage writes upload objects to S3-compatible object storage.
//
// Objects become visible all-or-nothing: a single PutObject for small
// sources, or a multipart upload that is either completed or aborted.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"

	sc "github.com/dmitrijs2005/crawlupload/internal/server/config"
	"github.com/dmitrijs2005/crawlupload/internal/logging"
)

const (
	// PresignExpiry is how long presigned GET links stay valid.
	PresignExpiry = 15 * time.Minute

	// maxDeleteBatch is the S3 limit of keys per DeleteObjects call.
	maxDeleteBatch = 1000

	defaultAbortTimeout = 30 * time.Second
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
)

// S3Storage stores upload objects in one bucket.
type S3Storage struct {
	client       S3API
	presigner    Presigner
	bucket       string
	abortTimeout time.Duration
	logger       logging.Logger
}

// New returns an S3Storage over an existing client.
func New(client S3API, presigner Presigner, bucket string, logger logging.Logger) *S3Storage {
	return &S3Storage{
		client:       client,
		presigner:    presigner,
		bucket:       bucket,
		abortTimeout: defaultAbortTimeout,
		logger:       logger.With("module", "storage"),
	}
}

// NewS3Storage builds an S3 client from the server configuration. Static
// credentials and a base endpoint let it talk to MinIO as well as AWS.
func NewS3Storage(ctx context.Context, cfg *sc.Config, logger logging.Logger) (*S3Storage, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,     // MINIO_ROOT_USER
			cfg.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return New(client, newS3PresignClient(client), cfg.S3Bucket, logger), nil
}

// Bucket returns the bucket objects are written to.
func (s *S3Storage) Bucket() string {
	return s.bucket
}

// UploadSingle stores everything read from r under name with one PutObject.
func (s *S3Storage) UploadSingle(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return newError("read", s.bucket, name, err)
	}
	return s.put(ctx, name, data)
}

func (s *S3Storage) put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(mimetype.Detect(data).String()),
	})
	if err != nil {
		return newError("put", s.bucket, name, err)
	}
	return nil
}

// DeleteObjects removes the named objects. Keys are sent in batches of up to
// 1000; per-key failures are joined into the returned error.
func (s *S3Storage) DeleteObjects(ctx context.Context, names []string) error {
	var errs []error

	for start := 0; start < len(names); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(names))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, name := range names[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(name)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, newError("delete", s.bucket, "", err))
			continue
		}

		for _, e := range out.Errors {
			errs = append(errs, newError("delete", s.bucket, aws.ToString(e.Key),
				fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))))
		}
	}

	return errors.Join(errs...)
}

// PresignGet returns a time-limited GET URL for name.
func (s *S3Storage) PresignGet(ctx context.Context, name string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", newError("presign", s.bucket, name, err)
	}
	return req.URL, nil
}

// Check reports whether the bucket is reachable.
func (s *S3Storage) Check(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return newError("head_bucket", s.bucket, "", err)
	}
	return nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return newError("head_bucket", s.bucket, "", err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return newError("create_bucket", s.bucket, "", err)
	}

	s.logger.Info(ctx, "bucket created", "bucket", s.bucket)
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
