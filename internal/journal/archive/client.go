// Package archive uploads gzip-compressed snapshots of the journal
// database to an S3-compatible object store (Cloudflare R2 by
// default), grounded on the teacher's internal/reliability R2 backup
// service (NewR2Client/Upload/List/Delete over the AWS SDK v2, a
// timestamped filename scheme, minimum-retained-backup floor on
// rotation), generalized from a multi-database tar.gz bundle to this
// service's single append-only journal file.
package archive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config holds the S3-compatible endpoint and credentials the archive
// uploads to, resolved from config.Config's Archive* fields.
type Config struct {
	Bucket    string
	Endpoint  string // custom endpoint for R2 or other S3-compatible stores; empty uses AWS's default resolver
	AccessKey string
	SecretKey string
	Region    string
}

// Object describes one archived journal snapshot.
type Object struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
}

// Client is a thin wrapper over the S3 SDK scoped to one bucket.
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewClient builds a Client authenticated with static credentials
// against cfg.Endpoint (or AWS's regional endpoint when empty).
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{
		s3:       client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "journal-archive").Logger(),
	}, nil
}

// Upload streams r as key into the bucket.
func (c *Client) Upload(ctx context.Context, key string, r io.Reader) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: awssdk.String(c.bucket),
		Key:    awssdk.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return nil
}

// List returns every object whose key starts with prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	out, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: awssdk.String(c.bucket),
		Prefix: awssdk.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list objects: %w", err)
	}
	objects := make([]Object, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		ts := keyTimestamp(*obj.Key, prefix)
		objects = append(objects, Object{Key: *obj.Key, Timestamp: ts, SizeBytes: size})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Timestamp.After(objects[j].Timestamp) })
	return objects, nil
}

// Delete removes key from the bucket.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(c.bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return fmt.Errorf("archive: delete %s: %w", key, err)
	}
	return nil
}

// keyTimestamp parses the "<prefix><RFC3339-ish>.db.gz" naming scheme
// CreateAndUpload writes, falling back to the zero time for keys it
// doesn't recognize rather than failing the whole listing.
func keyTimestamp(key, prefix string) time.Time {
	name := strings.TrimPrefix(key, prefix)
	name = strings.TrimSuffix(name, ".db.gz")
	ts, err := time.Parse("2006-01-02-150405", name)
	if err != nil {
		return time.Time{}
	}
	return ts
}
