// Package azureblob implements a locate.Locator backed by Azure Blob
// Storage, reading a "preferred-host" blob metadata key.
package azureblob

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/cea-hpc/lhsm-coordinator/locate"
)

// Locator asks Azure Blob metadata for a preferred host hint.
type Locator struct {
	Container *container.Client
}

// New wraps a container client.
func New(c *container.Client) *Locator {
	return &Locator{Container: c}
}

// Locate implements locate.Locator.
func (l *Locator) Locate(ctx context.Context, objectID, focusHost string) (string, bool, error) {
	blob := l.Container.NewBlobClient(objectID)
	props, err := blob.GetProperties(ctx, nil)
	if err != nil {
		return "", false, err
	}
	if host, ok := props.Metadata["preferred-host"]; ok && host != nil && *host != "" {
		return *host, true, nil
	}
	return focusHost, focusHost != "", nil
}

var _ locate.Locator = (*Locator)(nil)
