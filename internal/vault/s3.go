package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"okm-go/internal/config"
	"okm-go/internal/okm"
)

// versionMetaKey is the object metadata entry holding a snapshot version.
const versionMetaKey = "okm-version"

// s3OpTimeout bounds every single vault call.
const s3OpTimeout = 10 * time.Minute

// S3Vault stores objects in an S3 compatible bucket:
//
//	<prefix>content/<key>
//	<prefix>snapshots/<instanceID>/<name>   (version in object metadata)
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Vault builds the client from cfg. Static credentials are used when
// both keys are set, the default credential chain otherwise. A custom
// endpoint (MinIO, Localstack) switches to path-style addressing.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3VaultFromClient(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

// NewS3VaultFromClient wraps an existing client.
func NewS3VaultFromClient(name, bucket, prefix string, client *s3.Client) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (v *S3Vault) contentKey(key string) string {
	return v.prefix + path.Join("content", key)
}

func (v *S3Vault) snapshotKey(instanceID, name string) string {
	return v.prefix + path.Join("snapshots", instanceID, name)
}

func (v *S3Vault) put(key string, r io.Reader, size int64, meta map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	cr := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     cr,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if cr.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, cr.n)
	}
	return nil
}

func (v *S3Vault) get(key string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return fmt.Errorf("object not found: %s", key)
		}
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

// PutContent uploads content; objects are content addressed so
// overwriting an existing key is harmless.
func (v *S3Vault) PutContent(key string, r io.Reader, size int64) error {
	return v.put(v.contentKey(key), r, size, nil)
}

func (v *S3Vault) GetContent(key string, w io.Writer) error {
	return v.get(v.contentKey(key), w)
}

func (v *S3Vault) PutMetadata(instanceID string, name string, r io.Reader, size int64, version int64) error {
	return v.put(v.snapshotKey(instanceID, name), r, size,
		map[string]string{versionMetaKey: strconv.FormatInt(version, 10)})
}

func (v *S3Vault) GetMetadata(instanceID string, name string, w io.Writer) error {
	return v.get(v.snapshotKey(instanceID, name), w)
}

// GetMetadataVersion reads the version from the snapshot's object
// metadata, returning 0 when no snapshot exists.
func (v *S3Vault) GetMetadataVersion(instanceID string, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	out, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.snapshotKey(instanceID, name)),
	})
	if err != nil {
		var notFound *types.NotFound
		var noKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noKey) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}

	raw, ok := out.Metadata[versionMetaKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ okm.Vault = (*S3Vault)(nil)
