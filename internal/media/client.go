// Package media relocates user-submitted files to an S3-compatible host and
// hands back the public URLs the rest of the system stores.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ErrForeignURL reports a delete request for a URL that was not minted by
// this host. Deleting it would touch content the service does not own.
var ErrForeignURL = errors.New("media: url outside public base")

// Config describes the S3-compatible backend. Endpoint is optional for real
// AWS; set it for MinIO-style deployments. PublicBaseURL is the CDN or
// bucket-website base every returned URL starts with.
type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Prefix        string
	PublicBaseURL string
}

// Upload carries one file to relocate.
type Upload struct {
	Folder      string
	FileName    string
	ContentType string
	Body        io.Reader
}

// Host is the handler-facing contract: move a file in, retire a file by the
// URL previously handed out.
type Host interface {
	Upload(ctx context.Context, upload Upload) (string, error)
	Delete(ctx context.Context, publicURL string) error
}

// Client implements Host against an S3-compatible API.
type Client struct {
	cfg     Config
	api     *s3.Client
	baseURL string
}

var _ Host = (*Client)(nil)

// NewClient validates the configuration and builds the S3 client with static
// credentials. A custom endpoint switches the client to path-style addressing
// so bucket names never become DNS labels.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("media: bucket is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("media: access key and secret key are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("media: public base url is required")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{cfg: cfg, api: api, baseURL: baseURL}, nil
}

// Upload stores the file under a random key and returns its public URL.
func (c *Client) Upload(ctx context.Context, upload Upload) (string, error) {
	if upload.Body == nil {
		return "", errors.New("media: upload body is required")
	}
	key := c.objectKey(upload.Folder, upload.FileName)
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
		Body:   upload.Body,
	}
	if upload.ContentType != "" {
		input.ContentType = aws.String(upload.ContentType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("media: upload %s: %w", key, err)
	}
	return c.publicURL(key), nil
}

// Delete removes the object behind a previously returned public URL.
// URLs minted elsewhere are rejected with ErrForeignURL.
func (c *Client) Delete(ctx context.Context, publicURL string) error {
	key, err := c.keyFromURL(publicURL)
	if err != nil {
		return err
	}
	if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("media: delete %s: %w", key, err)
	}
	return nil
}

func (c *Client) objectKey(folder, fileName string) string {
	name := uuid.NewString()
	if ext := strings.ToLower(path.Ext(fileName)); ext != "" {
		name += ext
	}
	segments := make([]string, 0, 3)
	if prefix := strings.Trim(strings.TrimSpace(c.cfg.Prefix), "/"); prefix != "" {
		segments = append(segments, prefix)
	}
	if folder := strings.Trim(strings.TrimSpace(folder), "/"); folder != "" {
		segments = append(segments, folder)
	}
	segments = append(segments, name)
	return strings.Join(segments, "/")
}

func (c *Client) publicURL(key string) string {
	return c.baseURL + "/" + strings.TrimLeft(key, "/")
}

func (c *Client) keyFromURL(publicURL string) (string, error) {
	trimmed := strings.TrimSpace(publicURL)
	if !strings.HasPrefix(trimmed, c.baseURL+"/") {
		return "", ErrForeignURL
	}
	key := strings.TrimLeft(strings.TrimPrefix(trimmed, c.baseURL+"/"), "/")
	if key == "" {
		return "", ErrForeignURL
	}
	return key, nil
}
