package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

// S3API is the subset of the S3 client used by S3BlobStore
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3BlobStore keeps image bytes in an S3-compatible bucket keyed by checksum
type S3BlobStore struct {
	client S3API
	bucket string
	prefix string
	log    *logrus.Entry
}

// NewS3BlobStore builds a client from the blob settings. Static credentials
// are used when both keys are set, otherwise the default AWS chain.
func NewS3BlobStore(ctx context.Context, cfg config.BlobConfig, logger *logrus.Entry) (*S3BlobStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS config: %w", utils.ErrBlobStore, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for some S3-compatible services
		}
	})

	logger.WithFields(logrus.Fields{"bucket": cfg.Bucket, "endpoint": cfg.Endpoint}).Info("S3 blob store initialized")
	return NewS3BlobStoreWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewS3BlobStoreWithClient wraps an existing client
func NewS3BlobStoreWithClient(client S3API, bucket, prefix string, logger *logrus.Entry) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: bucket, prefix: prefix, log: logger}
}

func (s *S3BlobStore) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// PutBlob implements BlobStore; objects already present are not rewritten
func (s *S3BlobStore) PutBlob(ctx context.Context, key string, data []byte, contentType string) error {
	exists, err := s.HasBlob(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		s.log.WithField("key", key).Debug("Blob already stored")
		return nil
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: uploading '%s': %w", utils.ErrBlobStore, key, err)
	}
	return nil
}

// GetBlob implements BlobStore
func (s *S3BlobStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: blob '%s'", utils.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: downloading '%s': %w", utils.ErrBlobStore, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading '%s': %w", utils.ErrBlobStore, key, err)
	}
	return data, nil
}

// HasBlob implements BlobStore
func (s *S3BlobStore) HasBlob(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	return false, fmt.Errorf("%w: checking '%s': %w", utils.ErrBlobStore, key, err)
}
