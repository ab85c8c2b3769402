package publisher

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fstrack/internal/config"
	"fstrack/internal/encryption"
	"fstrack/internal/track"
)

// S3Archive stores every event as an object keyed by its id:
//
//	<prefix>/<event name>/<event id>.json[.age]
//
// Re-publishing overwrites the same object. With a Sealer the body is
// encrypted before upload.
type S3Archive struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	sealer   encryption.Sealer
}

// NewS3Archive creates an archive over an S3 API client. sealer may be nil.
func NewS3Archive(client manager.UploadAPIClient, bucket, prefix string, sealer encryption.Sealer) *S3Archive {
	return &S3Archive{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		sealer:   sealer,
	}
}

// ObjectKey returns the key an event is archived under.
func (a *S3Archive) ObjectKey(event track.Event) string {
	name := FileName(event.ID)
	if a.sealer != nil {
		name += a.sealer.Extension()
	}
	return path.Join(a.prefix, event.Name, name)
}

func (a *S3Archive) Publish(ctx context.Context, event track.Event) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}
	contentType := "application/json"
	if a.sealer != nil {
		body, err = a.sealer.Seal(body)
		if err != nil {
			return fmt.Errorf("sealing %s: %w", event.ID, err)
		}
		contentType = "application/octet-stream"
	}

	key := a.ObjectKey(event)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("uploading %s to s3://%s/%s: %w", event.ID, a.bucket, key, err)
	}
	return nil
}

// NewS3Client builds an S3 client from the publisher settings. Static
// credentials are used when configured, otherwise the default AWS chain.
// A custom endpoint switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.PublisherConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

var _ track.Publisher = (*S3Archive)(nil)
