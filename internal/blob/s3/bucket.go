// Package s3blob archives run reports to S3 or any S3-compatible store
// (MinIO, R2) and reads candle files back for backtests.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const (
	reportsRoot = "reports/"

	// CSV files with more rows than this stream through the multipart
	// uploader in parts of multipartPartSize.
	multipartRows     = 50_000
	multipartPartSize = 8 << 20
)

// BucketConfig holds the object store connection settings.
type BucketConfig struct {
	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000"
	// for MinIO. Empty means AWS S3.
	Endpoint  string
	Region    string
	Name      string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme for an Endpoint given without one.
	UseSSL bool
	// ForcePathStyle puts the bucket in the path; MinIO needs it.
	ForcePathStyle bool
}

// Bucket keeps run artefacts under reports/<runID>/ and serves candle CSV
// files. It implements domain.ReportBucket and domain.CandleBucket.
type Bucket struct {
	client   *s3.Client
	uploader *manager.Uploader
	name     string
}

// NewBucket builds the SDK client. Static credentials are used when
// AccessKey is set; otherwise the default AWS credential chain applies.
func NewBucket(ctx context.Context, cfg BucketConfig) (*Bucket, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Bucket{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = multipartPartSize
		}),
		name: cfg.Name,
	}, nil
}

// Health checks that the bucket is reachable with the configured credentials.
func (b *Bucket) Health(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return fmt.Errorf("s3blob: health check for bucket %s: %w", b.name, err)
	}
	return nil
}

// PutRunObject uploads one file of a run. The content type follows the file
// extension; large CSVs go through the multipart uploader.
func (b *Bucket) PutRunObject(ctx context.Context, runID string, obj domain.RunObject) error {
	key := runKey(runID, obj.Name)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        obj.Body,
		ContentType: aws.String(contentType(obj.Name)),
	}

	var err error
	if useMultipart(obj) {
		_, err = b.uploader.Upload(ctx, input)
	} else {
		_, err = b.client.PutObject(ctx, input)
	}
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// RunIDs lists the runs that have a report.json, following pagination.
func (b *Bucket) RunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(reportsRoot),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list reports: %w", err)
		}
		for _, obj := range page.Contents {
			if id, ok := runIDFromKey(aws.ToString(obj.Key)); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// OpenCandles opens a candle CSV. The caller closes the body. A missing
// object yields domain.ErrNotFound.
func (b *Bucket) OpenCandles(ctx context.Context, key string) (io.ReadCloser, error) {
	if !strings.EqualFold(path.Ext(key), ".csv") {
		return nil, fmt.Errorf("s3blob: candles %s: not a .csv object", key)
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: candles %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: candles %s: %w", key, err)
	}
	return out.Body, nil
}

func reportPrefix(runID string) string { return reportsRoot + runID }

func runKey(runID, name string) string { return path.Join(reportPrefix(runID), name) }

// runIDFromKey extracts <runID> from reports/<runID>/report.json.
func runIDFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, reportsRoot)
	if !ok {
		return "", false
	}
	id, file, ok := strings.Cut(rest, "/")
	if !ok || id == "" || file != reportFile {
		return "", false
	}
	return id, true
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	}
	return "application/octet-stream"
}

func useMultipart(obj domain.RunObject) bool { return obj.Rows > multipartRows }

// isNotFound matches NoSuchKey, NotFound and bare 404s from S3-compatible
// providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

// normaliseEndpoint prepends http:// or https:// to a bare host.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

var (
	_ domain.ReportBucket = (*Bucket)(nil)
	_ domain.CandleBucket = (*Bucket)(nil)
)
