package sources

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/airutil"
	"github.com/go-logr/logr"
)

// S3 serves the .deb objects of an S3 compatible bucket.
type S3 struct {
	base
	bucket string
	prefix string
	client *s3.Client
}

func NewS3(ctx context.Context, id string, spec v1.S3Source, opts Options) (*S3, error) {
	cfgOpts := []func(*config.LoadOptions) error{
		config.WithRegion(spec.Region),
		config.WithRetryMaxAttempts(opts.retries() + 1),
	}
	if accessKey := airutil.ExpandEnv(spec.AccessKeyID); accessKey != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			airutil.ExpandEnv(spec.SecretAccessKey),
			airutil.ExpandEnv(spec.SessionToken),
		)))
	}
	if endpoint := airutil.ExpandEnv(spec.Endpoint); endpoint != "" {
		cfgOpts = append(cfgOpts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, HostnameImmutable: spec.PathStyle}, nil
			},
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &S3{
		base:   base{id: id, kind: KindS3},
		bucket: spec.Bucket,
		prefix: spec.Prefix,
		client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = spec.PathStyle
		}),
	}, nil
}

func (s *S3) List(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("source", s.id, "bucket", s.bucket, "prefix", s.prefix)

	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if s.prefix != "" {
		params.Prefix = aws.String(s.prefix)
	}
	var out []Candidate
	p := s3.NewListObjectsV2Paginator(s.client, params)
	for i := 1; p.HasMorePages(); i++ {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get page %d: %w", i, s3Error(s.bucket, err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !isDeb(key) {
				continue
			}
			out = append(out, Candidate{
				ID:       key,
				Revision: aws.ToString(obj.ETag),
				Restore:  RestoreDescriptor{Kind: KindS3, Bucket: s.bucket, Key: key},
			})
		}
		log.V(2).Info("read page of objects", "page", i, "count", len(page.Contents))
	}
	return out, nil
}

func (s *S3) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	if rd.Bucket != s.bucket {
		return nil, fmt.Errorf("%w: bucket %s is not %s", ErrUnsupportedKind, rd.Bucket, s.bucket)
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(rd.Bucket),
		Key:    aws.String(rd.Key),
	})
	if err != nil {
		return nil, s3Error(rd.Bucket+"/"+rd.Key, err)
	}
	return resp.Body, nil
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func s3Error(target string, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	var ae smithy.APIError
	if errors.As(err, &ae) && (ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchBucket") {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, target, err)
	}
	var re httpStatusError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %w", &StatusError{URL: target, Code: re.HTTPStatusCode()}, err)
	}
	return err
}
