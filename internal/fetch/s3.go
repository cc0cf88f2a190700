package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	loaderrors "github.com/zfogg/sidechain/lazyload/internal/errors"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
)

// s3API is the part of the S3 client the fetcher needs.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads s3://bucket/key images, e.g. profile pictures and
// cover art straight from the media bucket.
type S3Fetcher struct {
	client s3API
}

var _ lazyload.Fetcher = (*S3Fetcher)(nil)

// NewS3Fetcher creates a fetcher using the default AWS credential chain.
func NewS3Fetcher(ctx context.Context, region string) (*S3Fetcher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Fetcher{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3FetcherWithClient wraps an existing client.
func NewS3FetcherWithClient(client s3API) *S3Fetcher {
	return &S3Fetcher{client: client}
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) (*lazyload.Resource, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, loaderrors.New(loaderrors.KindUnsupported, rawURL, "invalid s3 url", err)
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, loaderrors.HTTPStatus(rawURL, http.StatusNotFound)
		}
		loadErr := loaderrors.Categorize(err)
		loadErr.URL = rawURL
		return nil, loadErr
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, loaderrors.New(loaderrors.KindNetwork, rawURL, "failed to read s3 object", err)
	}

	return Inspect(rawURL, data, aws.ToString(out.ContentType))
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 url: %s", rawURL)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and a key: %s", rawURL)
	}
	return bucket, key, nil
}
