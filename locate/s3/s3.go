// Package s3 implements a locate.Locator backed by Amazon S3 (or an
// S3-compatible backend): it reads a `preferred-host` object metadata key
// set by the backend storage layer, falling back to the caller's focus
// host when absent.
package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cea-hpc/lhsm-coordinator/locate"
)

// HeadObjectAPI is the subset of *s3.Client used here, narrowed for
// testability.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Locator asks S3 object metadata for a preferred host hint.
type Locator struct {
	Client HeadObjectAPI
	Bucket string
}

// New wraps an s3.Client for the given bucket.
func New(client *s3.Client, bucket string) *Locator {
	return &Locator{Client: client, Bucket: bucket}
}

// Locate implements locate.Locator.
func (l *Locator) Locate(ctx context.Context, objectID, focusHost string) (string, bool, error) {
	out, err := l.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &l.Bucket,
		Key:    &objectID,
	})
	if err != nil {
		return "", false, err
	}
	if host, ok := out.Metadata["preferred-host"]; ok && host != "" {
		return host, true, nil
	}
	return focusHost, focusHost != "", nil
}

var _ locate.Locator = (*Locator)(nil)
