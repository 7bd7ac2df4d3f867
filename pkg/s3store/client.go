// Package s3store moves reducer inputs and artifacts between local disk and S3.
package s3store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Client wraps the S3 transfer managers.
type Client struct {
	s3Client   *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewClient creates a client using the default AWS configuration chain.
func NewClient(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewClientWithConfig(cfg), nil
}

// NewClientWithConfig creates a client with a custom AWS config.
func NewClientWithConfig(cfg aws.Config) *Client {
	s3Client := s3.NewFromConfig(cfg)

	concurrency := min(max(runtime.NumCPU(), 4), 16)
	const partSize = 16 * 1024 * 1024

	return &Client{
		s3Client: s3Client,
		downloader: manager.NewDownloader(s3Client, func(d *manager.Downloader) {
			d.Concurrency = concurrency
			d.PartSize = partSize
		}),
		uploader: manager.NewUploader(s3Client, func(u *manager.Uploader) {
			u.Concurrency = concurrency
			u.PartSize = partSize
		}),
	}
}

// DownloadToFile downloads s3://bucket/key to destPath using parallel range
// requests and returns the number of bytes written.
func (c *Client) DownloadToFile(ctx context.Context, bucket, key, destPath string) (int64, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}

	n, err := c.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		f.Close()
		os.Remove(destPath)
		return 0, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("close %s: %w", destPath, err)
	}
	return n, nil
}

// UploadFile uploads the local file at path to s3://bucket/key.
func (c *Client) UploadFile(ctx context.Context, path, bucket, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("upload %s to s3://%s/%s: %w", path, bucket, key, err)
	}
	return nil
}

// UploadDir uploads every regular file under dir to s3://bucket/prefix,
// keeping relative paths. It returns the number of files uploaded.
func (c *Client) UploadDir(ctx context.Context, log zerolog.Logger, dir, bucket, prefix string) (int, error) {
	var uploaded int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := JoinKey(prefix, filepath.ToSlash(rel))
		if err := c.UploadFile(ctx, path, bucket, key); err != nil {
			return err
		}
		uploaded++
		log.Debug().Str("file", rel).Str("key", key).Msg("uploaded artifact")
		return nil
	})
	return uploaded, err
}
