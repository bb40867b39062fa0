// Package publish uploads the rendered broker configuration to an
// S3-compatible object store.
package publish

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/natskeeper/internal/netx"
)

const (
	contentType   = "text/plain; charset=utf-8"
	presignExpiry = 15 * time.Minute
)

type Options struct {
	Bucket       string
	Key          string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string

	// HTTPClient performs the upload; nil means http.DefaultClient.
	HTTPClient *http.Client
}

type Publisher struct {
	presign *s3.PresignClient
	bucket  string
	key     string
	http    *http.Client
}

func New(ctx context.Context, opts Options) (*Publisher, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("s3 bucket and key must be set")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return &Publisher{
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		key:     opts.Key,
		http:    opts.HTTPClient,
	}, nil
}

// Publish uploads the configuration and returns a presigned download URL
// for it.
func (p *Publisher) Publish(ctx context.Context, serverConfig string) (string, error) {
	put, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      &p.bucket,
		Key:         &p.key,
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}

	if err := netx.UploadToPresignedURL(ctx, p.http, put.URL, contentType, []byte(serverConfig)); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", p.bucket, p.key, err)
	}

	get, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &p.bucket,
		Key:    &p.key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return get.URL, nil
}
