package objectstore

import (
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
)

// S3Client serves the "s3" scheme via the classic AWS SDK, grounded on the
// object-storage usage in the retrieved example pack. path_style_access is
// always on since S3_URL typically names an S3-compatible endpoint rather
// than AWS itself.
type S3Client struct {
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	svc        *s3.S3
}

func NewS3Client(cfg config.S3Config) (*S3Client, error) {
	awsCfg := aws.NewConfig().
		WithS3ForcePathStyle(true).
		WithRegion("us-east-1")

	if cfg.URL != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.URL)
	}
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "create s3 session", err)
	}

	return &S3Client{
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		svc:        s3.New(sess),
	}, nil
}

// splitS3 parses s3://bucket/key into its parts.
func splitS3(rawURL string) (bucket, key string, err error) {
	u, perr := url.Parse(rawURL)
	if perr != nil {
		return "", "", poiesiserr.Wrap(poiesiserr.KindValidation, "parse s3 url "+rawURL, perr)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func (c *S3Client) Download(ctx context.Context, rawURL, path string) error {
	bucket, key, err := splitS3(rawURL)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "create "+path, err)
	}
	defer f.Close()

	_, err = c.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "s3 download "+rawURL, err)
	}
	return nil
}

func (c *S3Client) Upload(ctx context.Context, path, rawURL string) error {
	bucket, key, err := splitS3(rawURL)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "open "+path, err)
	}
	defer f.Close()

	_, err = c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "s3 upload "+rawURL, err)
	}
	return nil
}

func (c *S3Client) List(ctx context.Context, urlPrefix string) ([]Entry, error) {
	bucket, prefix, err := splitS3(urlPrefix)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = c.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			entries = append(entries, Entry{
				URL:  "s3://" + bucket + "/" + aws.StringValue(obj.Key),
				Path: aws.StringValue(obj.Key),
			})
		}
		return true
	})
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "s3 list "+urlPrefix, err)
	}
	return entries, nil
}

var _ Client = (*S3Client)(nil)
