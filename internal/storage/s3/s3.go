// Package s3 provides an S3-compatible mirror target.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dumpftp/dumpftp/internal/metrics"
	"github.com/dumpftp/dumpftp/internal/storage"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Bucket       string
	Prefix       string
}

// Client is the subset of *s3.Client the backend uses.
type Client interface {
	manager.UploadAPIClient
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Backend implements storage.Backend on a bucket prefix.
type Backend struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ storage.Backend = (*Backend)(nil)

// New builds an S3 client from cfg. Static credentials are used when given,
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, bucket, prefix string) *Backend {
	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (b *Backend) objectKey(key string) string {
	return storage.Join(b.prefix, key)
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStorageOperation("s3", op, time.Since(start), err == nil)
}

// MkdirAll writes a zero-byte "key/" marker so empty directories survive.
func (b *Backend) MkdirAll(ctx context.Context, key string) error {
	k := b.objectKey(key)
	if k == "" {
		return nil
	}
	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(k + "/"),
		Body:   strings.NewReader(""),
	})
	observe("mkdir", start, err)
	if err != nil {
		return fmt.Errorf("put directory marker %s: %w", k, err)
	}
	return nil
}

// Create starts a streaming upload fed by the returned writer.
func (b *Backend) Create(ctx context.Context, key string) (storage.ObjectWriter, error) {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &Writer{
		key:    b.objectKey(key),
		pw:     pw,
		cancel: cancel,
		done:   make(chan error, 1),
		start:  time.Now(),
	}
	go func() {
		_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(w.key),
			Body:   pr,
		})
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// Copy duplicates an object server-side.
func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	start := time.Now()
	src := b.objectKey(srcKey)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(copySource(b.bucket, src)),
		Key:        aws.String(b.objectKey(dstKey)),
	})
	observe("copy", start, err)
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, err)
	}
	return nil
}

func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

// Exists issues HeadObject; a NotFound reply means absent.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil && isNotFound(err) {
		observe("head", start, nil)
		return false, nil
	}
	observe("head", start, err)
	if err != nil {
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Location returns the s3:// URL of key.
func (b *Backend) Location(key string) string {
	return "s3://" + path.Join(b.bucket, b.objectKey(key))
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op; the SDK client holds no releasable resources.
func (b *Backend) Close() error { return nil }

var errAborted = errors.New("upload aborted")

// Writer feeds an in-flight upload.
type Writer struct {
	key      string
	pw       *io.PipeWriter
	cancel   context.CancelFunc
	done     chan error
	start    time.Time
	finished bool
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Commit ends the stream and waits for the upload to complete.
func (w *Writer) Commit() error {
	if w.finished {
		return fmt.Errorf("commit %s: writer already finished", w.key)
	}
	w.finished = true
	w.pw.Close()
	err := <-w.done
	w.cancel()
	observe("upload", w.start, err)
	if err != nil {
		return fmt.Errorf("upload %s: %w", w.key, err)
	}
	return nil
}

// Abort cancels the upload. Any multipart upload in progress is aborted by
// the uploader.
func (w *Writer) Abort() error {
	if w.finished {
		return nil
	}
	w.finished = true
	w.cancel()
	w.pw.CloseWithError(errAborted)
	<-w.done
	observe("abort", w.start, nil)
	return nil
}
