package health

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// BucketHeader is satisfied by *s3.Client.
type BucketHeader interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Checker aggregates readiness checks for the upstream credential and the
// optional Redis and S3 dependencies.
type Checker struct {
	redis    RedisPinger
	s3       BucketHeader
	s3Bucket string
	token    string
	model    string
}

// Options configures the Checker. Nil Redis or S3 means the dependency is disabled.
type Options struct {
	Redis    RedisPinger
	S3       BucketHeader
	S3Bucket string
	Token    string
	Model    string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Ready    bool   `json:"ready"`
	Upstream Status `json:"upstream"`
	Redis    Status `json:"redis"`
	S3       Status `json:"s3"`
}

func New(opts Options) *Checker {
	return &Checker{
		redis:    opts.Redis,
		s3:       opts.S3,
		s3Bucket: strings.TrimSpace(opts.S3Bucket),
		token:    strings.TrimSpace(opts.Token),
		model:    opts.Model,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	s := Summary{
		Upstream: c.checkUpstream(),
		Redis:    c.checkRedis(ctx),
		S3:       c.checkS3(ctx),
	}
	s.Ready = s.Upstream.OK && s.Redis.OK && s.S3.OK
	return s
}

func (c *Checker) checkUpstream() Status {
	if c.token == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	return Status{OK: true, Message: "Configured for " + c.model}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: true, Message: "Disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3 == nil || c.s3Bucket == "" {
		return Status{OK: true, Message: "Disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.s3Bucket}); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
