package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the part of the S3 client the source uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads csv or xlsx objects addressed as bucket/key.
type S3Source struct {
	client ObjectGetter
}

// NewS3Source builds a source from the default AWS credential chain.
func NewS3Source(ctx context.Context, region string) (*S3Source, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for S3 source: %w", err)
	}
	return &S3Source{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client ObjectGetter) *S3Source {
	return &S3Source{client: client}
}

// Load fetches bucket/key and parses it by the key's extension.
func (s *S3Source) Load(ctx context.Context, location string, opts LoadOptions) (*Table, error) {
	bucket, key, ok := strings.Cut(location, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 location %q must be bucket/key", ErrUnsupportedSource, location)
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()
	return readByExtension(key, resp.Body, opts)
}
