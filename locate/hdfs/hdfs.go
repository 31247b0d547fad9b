// Package hdfs implements a locate.Locator backed by HDFS, preferring the
// datanode that holds the object's first block replica -- the only
// backend of the four where "preferred host" maps onto genuine data
// locality rather than user-set metadata.
package hdfs

import (
	"context"

	"github.com/colinmarc/hdfs/v2"

	"github.com/cea-hpc/lhsm-coordinator/locate"
)

// Locator asks HDFS for the datanode hosting an object's first block.
type Locator struct {
	Client *hdfs.Client
}

// New wraps an hdfs.Client.
func New(client *hdfs.Client) *Locator {
	return &Locator{Client: client}
}

// Locate implements locate.Locator.
func (l *Locator) Locate(ctx context.Context, objectID, focusHost string) (string, bool, error) {
	blockLocations, err := l.Client.GetBlockLocations(objectID, 0, 1)
	if err != nil {
		return "", false, err
	}
	for _, bl := range blockLocations {
		if len(bl.Hosts) > 0 {
			return bl.Hosts[0], true, nil
		}
	}
	return focusHost, focusHost != "", nil
}

var _ locate.Locator = (*Locator)(nil)
