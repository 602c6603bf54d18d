package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type bucket struct {
	err  error
	seen string
}

func (b *bucket) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	b.seen = *in.Bucket
	return &s3.HeadBucketOutput{}, b.err
}

func TestSummaryMinimal(t *testing.T) {
	s := New(Options{Token: "t", Model: "m"}).Summary(context.Background())
	assert.True(t, s.Ready)
	assert.Equal(t, "Disabled", s.Redis.Message)
	assert.Equal(t, "Disabled", s.S3.Message)
	assert.Equal(t, "Configured for m", s.Upstream.Message)
}

func TestSummaryMissingToken(t *testing.T) {
	s := New(Options{Token: "  "}).Summary(context.Background())
	assert.False(t, s.Ready)
	assert.False(t, s.Upstream.OK)
}

func TestSummaryDependencies(t *testing.T) {
	b := &bucket{}
	s := New(Options{Token: "t", Redis: pinger{}, S3: b, S3Bucket: "images"}).Summary(context.Background())
	assert.True(t, s.Ready)
	assert.Equal(t, "Connected", s.Redis.Message)
	assert.Equal(t, "Connected", s.S3.Message)
	assert.Equal(t, "images", b.seen)

	s = New(Options{Token: "t", Redis: pinger{err: errors.New("connection refused")}}).Summary(context.Background())
	assert.False(t, s.Ready)
	assert.Equal(t, "connection refused", s.Redis.Message)

	s = New(Options{Token: "t", S3: &bucket{err: context.DeadlineExceeded}, S3Bucket: "images"}).Summary(context.Background())
	assert.False(t, s.Ready)
	assert.Equal(t, "timeout", s.S3.Message)
}

func TestTrimError(t *testing.T) {
	assert.Equal(t, "", trimError(nil))
	assert.Len(t, trimError(errors.New(strings.Repeat("x", 300))), 120)
}
