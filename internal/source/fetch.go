// Package source resolves remote image references into temporary files.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/imagedescriber/internal/describe"
)

// Options configures a Fetcher.
type Options struct {
	AllowRemote bool
	MaxBytes    int64
	TempDir     string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	HTTPClient *http.Client
}

// Fetcher downloads s3:// and http(s):// references.
type Fetcher struct {
	opts Options
	http *http.Client

	once  sync.Once
	s3    *s3.Client
	s3Err error
}

func New(opts Options) *Fetcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 20 << 20
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{opts: opts, http: client}
}

// Enabled reports whether remote references are accepted at all.
func (f *Fetcher) Enabled() bool { return f.opts.AllowRemote }

// Fetch downloads ref into a temporary file and returns its path. The caller
// owns the file and must remove it.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if !f.opts.AllowRemote {
		return "", &describe.ValidationError{Message: "remote image references are disabled"}
	}
	switch {
	case strings.HasPrefix(ref, "s3://"):
		return f.downloadS3(ctx, ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.downloadHTTP(ctx, ref)
	default:
		return "", &describe.ValidationError{Message: fmt.Sprintf("unsupported image reference %q", ref)}
	}
}

func (f *Fetcher) tooLarge() error {
	return &describe.ValidationError{Message: fmt.Sprintf("image exceeds %d bytes", f.opts.MaxBytes)}
}

func (f *Fetcher) createTemp(name string) (*os.File, error) {
	ext := strings.ToLower(path.Ext(name))
	if len(ext) > 6 || strings.ContainsAny(ext, `/\?#`) {
		ext = ""
	}
	return os.CreateTemp(f.opts.TempDir, "imgref-*"+ext)
}

func (f *Fetcher) downloadHTTP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &describe.ValidationError{Message: fmt.Sprintf("invalid image reference: %v", err)}
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: http %d", resp.StatusCode)
	}
	if resp.ContentLength > f.opts.MaxBytes {
		return "", f.tooLarge()
	}

	tmp, err := f.createTemp(req.URL.Path)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > f.opts.MaxBytes {
		err = f.tooLarge()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	log.Ctx(ctx).Debug().Str("url", url).Int64("bytes", n).Str("file", filepath.Base(tmp.Name())).Msg("downloaded image to temp")
	return tmp.Name(), nil
}

func (f *Fetcher) downloadS3(ctx context.Context, s3url string) (string, error) {
	// s3://bucket/key
	p := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 || slash == len(p)-1 {
		return "", &describe.ValidationError{Message: fmt.Sprintf("invalid s3 url: %s", s3url)}
	}
	bucket, key := p[:slash], p[slash+1:]

	cli, err := f.client(ctx)
	if err != nil {
		return "", err
	}

	head, err := cli.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("s3 head %s: %w", s3url, err)
	}
	if head.ContentLength != nil && *head.ContentLength > f.opts.MaxBytes {
		return "", f.tooLarge()
	}

	tmp, err := f.createTemp(key)
	if err != nil {
		return "", err
	}
	n, err := manager.NewDownloader(cli).Download(ctx, tmp, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > f.opts.MaxBytes {
		err = f.tooLarge()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("s3 download %s: %w", s3url, err)
	}
	log.Ctx(ctx).Info().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Str("file", filepath.Base(tmp.Name())).Msg("downloaded s3 image to temp")
	return tmp.Name(), nil
}

func (f *Fetcher) client(ctx context.Context) (*s3.Client, error) {
	f.once.Do(func() {
		f.s3, f.s3Err = NewS3Client(ctx, f.opts)
	})
	return f.s3, f.s3Err
}

// NewS3Client loads the default AWS chain, overridden by static keys, region
// and a custom endpoint when set.
func NewS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.S3Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.S3Region))
	}
	if opts.S3AccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.S3AccessKey, opts.S3SecretKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
