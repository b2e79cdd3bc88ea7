// Package evidence turns the evidence reference carried by an incident event
// into a URL a dashboard can fetch. Plain web URLs pass through; s3:// object
// references become short-lived presigned GET URLs.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultTTL is the lifetime of a presigned URL.
const DefaultTTL = 15 * time.Minute

var (
	// ErrUnsupportedScheme is returned for references that are neither web
	// URLs nor s3:// objects.
	ErrUnsupportedScheme = errors.New("unsupported evidence scheme")

	// ErrNoObjectStore is returned for s3:// references when the resolver was
	// built without object storage.
	ErrNoObjectStore = errors.New("object storage not configured")
)

// Config configures object storage access. Region empty means object storage
// is disabled.
type Config struct {
	Region    string
	Endpoint  string // custom endpoint for MinIO and similar; enables path-style
	TTL       time.Duration
	AccessKey string // static credentials; empty uses the default chain
	SecretKey string
}

// Resolver resolves evidence references.
type Resolver struct {
	presign *s3.PresignClient
	ttl     time.Duration
}

// New builds a resolver. With an empty cfg.Region only web URLs resolve.
func New(ctx context.Context, cfg Config) (*Resolver, error) {
	r := &Resolver{ttl: cfg.TTL}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if cfg.Region == "" {
		return r, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	r.presign = s3.NewPresignClient(s3.NewFromConfig(awsCfg, s3opts...))
	return r, nil
}

// Resolve returns a fetchable URL for ref. An empty ref resolves to "".
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse evidence reference: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("evidence reference %q has no host", ref)
		}
		return ref, nil
	case "s3":
		return r.presignObject(ctx, u)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (r *Resolver) presignObject(ctx context.Context, u *url.URL) (string, error) {
	if r.presign == nil {
		return "", ErrNoObjectStore
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", fmt.Errorf("evidence reference %q needs a bucket and key", u.String())
	}

	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign get object: %w", err)
	}
	return req.URL, nil
}
