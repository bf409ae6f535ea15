package rawsource

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
)

// S3Config locates the bulk-file mirror.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // optional, for MinIO and other S3-compatible stores
	AccessKeyID     string // optional, falls back to the default chain
	SecretAccessKey string
	PathStyle       bool
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// S3 reads raw files from a bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Source = (*S3)(nil)

// NewS3 builds an S3 source from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("rawsource: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "rawsource: load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Open implements Source.
func (s *S3) Open(ctx context.Context, cycle int, table string) (io.ReadCloser, error) {
	return s.get(ctx, DataKey(cycle, table))
}

// OpenHeader implements Source.
func (s *S3) OpenHeader(ctx context.Context, cycle int, table string) (io.ReadCloser, error) {
	return s.get(ctx, HeaderKey(cycle, table))
}

func (s *S3) get(ctx context.Context, key string) (io.ReadCloser, error) {
	full := path.Join(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &full})
	if err != nil {
		if isNotFound(err) {
			return nil, eris.Wrapf(fs.ErrNotExist, "rawsource: s3://%s/%s", s.bucket, full)
		}
		return nil, eris.Wrapf(err, "rawsource: get s3://%s/%s", s.bucket, full)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
