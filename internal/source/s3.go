package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config configures the S3 fetcher.
type S3Config struct {
	Region         string
	Endpoint       string // custom endpoint for S3 compatible stores
	ForcePathStyle bool
}

// S3Fetcher downloads objects with the s3manager downloader. Credentials
// come from the usual AWS environment and shared config chain.
type S3Fetcher struct {
	client     s3iface.S3API
	downloader *s3manager.Downloader
}

// NewS3Fetcher creates a session and downloader.
func NewS3Fetcher(cfg S3Config) (*S3Fetcher, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	client := s3.New(sess)
	return &S3Fetcher{client: client, downloader: s3manager.NewDownloaderWithClient(client)}, nil
}

// Fetch downloads bucket/key into memory. With a positive maxBytes the
// object size is checked with a HEAD request first, and the download is
// capped at maxBytes+1 bytes in case the object grows in between.
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if maxBytes > 0 {
		head, err := f.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		if size := aws.Int64Value(head.ContentLength); size > maxBytes {
			return nil, fmt.Errorf("%w: object is %d bytes", ErrTooLarge, size)
		}
		in.Range = aws.String(fmt.Sprintf("bytes=0-%d", maxBytes))
	}

	buf := aws.NewWriteAtBuffer(nil)
	n, err := f.downloader.DownloadWithContext(ctx, buf, in)
	if err != nil {
		return nil, err
	}
	slog.Debug("Downloaded S3 object", "bucket", bucket, "key", key, "bytes", n)
	return buf.Bytes(), nil
}
