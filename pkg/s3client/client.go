// Package s3client reads a repository kept under an S3 prefix. Every call is
// retried with exponential backoff on throttling and server errors.
package s3client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
)

// ErrNotFound is returned by HeadObject for a missing key.
var ErrNotFound = errors.New("object not found")

// API is the part of the S3 client the repository reader needs.
type API interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// ItemMetadata is one listed object, keyed relative to the listed prefix.
type ItemMetadata struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ObjectInfo is what HeadObject reports about a single object.
type ObjectInfo struct {
	Size     int64
	ModTime  time.Time
	Checksum string // base64 SHA-256 of the whole object, if S3 has one
	Metadata map[string]string
}

// Client wraps the S3 client with retry logic
type Client struct {
	api        API
	downloader *manager.Downloader
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type Option func(*Client)

// WithRetry overrides the retry count and backoff bounds.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// New wraps api.
func New(api API, opts ...Option) *Client {
	c := &Client{
		api:        api,
		downloader: manager.NewDownloader(api),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromProfile builds a client from the default AWS credential chain. An
// empty profile or region keeps the chain's choice.
func NewFromProfile(ctx context.Context, profile, region string, opts ...Option) (*Client, error) {
	var configOpts []func(*config.LoadOptions) error
	if profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(profile))
	}
	if region != "" {
		configOpts = append(configOpts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), opts...), nil
}

// ListObjects lists every object under prefix. Directory placeholders (keys
// ending in "/") are kept; their Path ends in "/".
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]ItemMetadata, error) {
	var items []ItemMetadata

	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(listPrefix(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := withRetry(ctx, c, func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			items = append(items, ItemMetadata{
				Path:    trimKeyPrefix(*obj.Key, prefix),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	return items, nil
}

// HeadObject retrieves object metadata. A missing key is not retried.
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	resp, err := withRetry(ctx, c, func() (*s3.HeadObjectOutput, error) {
		return c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket:       aws.String(bucket),
			Key:          aws.String(key),
			ChecksumMode: types.ChecksumModeEnabled,
		})
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("head object: %w", err)
	}

	info := &ObjectInfo{
		Size:     aws.ToInt64(resp.ContentLength),
		ModTime:  aws.ToTime(resp.LastModified),
		Metadata: resp.Metadata,
	}
	// Multipart checksums are composite ("<digest>-<parts>") and not comparable.
	if sum := aws.ToString(resp.ChecksumSHA256); sum != "" && !strings.Contains(sum, "-") {
		info.Checksum = sum
	}
	return info, nil
}

// Download fetches a whole object into memory.
func (c *Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	return withRetry(ctx, c, func() ([]byte, error) {
		buf := manager.NewWriteAtBuffer(nil)
		if _, err := c.downloader.Download(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

func withRetry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		out, err := op()
		if err == nil {
			return out, nil
		}

		if !isRetryableError(err) {
			return zero, err
		}

		lastErr = err
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(c.calculateDelay(attempt)):
			}
		}
	}
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError checks if an error is retryable
func isRetryableError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "RequestTimeoutException", "InternalError":
			return true
		}
		// Retry on 5xx errors
		if httpErr, ok := apiErr.(interface{ HTTPStatusCode() int }); ok {
			code := httpErr.HTTPStatusCode()
			return code >= 500 && code < 600
		}
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// calculateDelay grows exponentially with ±25% jitter, capped at maxDelay.
func (c *Client) calculateDelay(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2.0, float64(attempt))
	delay += delay * 0.25 * (2*rand.Float64() - 1)
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	return time.Duration(delay)
}
