// Package locate defines the backend-locate() collaborator: given a
// storage object id and a "focus" host (the least-busy candidate so far),
// return the host that backend storage prefers to serve/accept that
// object from. Used by the scheduler for RESTORE actions carrying a
// backend object id, and for ARCHIVE group-hashing is used instead (see
// package sched's Scheduler.GroupHashEnabled). Concrete backends live in subpackages, one
// per storage SDK wired from the example corpus.
package locate

import "context"

// Locator is the scheduler-facing interface; concrete backends (s3,
// azureblob, gcs, hdfs) each implement this against their own SDK client.
type Locator interface {
	Locate(ctx context.Context, objectID, focusHost string) (host string, ok bool, err error)
}

// Func adapts a plain function to Locator.
type Func func(ctx context.Context, objectID, focusHost string) (string, bool, error)

func (f Func) Locate(ctx context.Context, objectID, focusHost string) (string, bool, error) {
	return f(ctx, objectID, focusHost)
}

// None is a Locator that never has a preference, used when no backend
// locate() is configured.
var None Locator = Func(func(context.Context, string, string) (string, bool, error) {
	return "", false, nil
})
