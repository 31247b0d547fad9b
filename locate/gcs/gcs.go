// Package gcs implements a locate.Locator backed by Google Cloud Storage,
// reading a "preferred-host" object metadata key.
package gcs

import (
	"context"

	"cloud.google.com/go/storage"

	"github.com/cea-hpc/lhsm-coordinator/locate"
)

// Locator asks GCS object metadata for a preferred host hint.
type Locator struct {
	Bucket *storage.BucketHandle
}

// New wraps a bucket handle.
func New(bucket *storage.BucketHandle) *Locator {
	return &Locator{Bucket: bucket}
}

// Locate implements locate.Locator.
func (l *Locator) Locate(ctx context.Context, objectID, focusHost string) (string, bool, error) {
	attrs, err := l.Bucket.Object(objectID).Attrs(ctx)
	if err != nil {
		return "", false, err
	}
	if host, ok := attrs.Metadata["preferred-host"]; ok && host != "" {
		return host, true, nil
	}
	return focusHost, focusHost != "", nil
}

var _ locate.Locator = (*Locator)(nil)
