package processor

import (
	"context"
	"sync"

	"github.com/arloliu/leasefeed/types"
)

// leaseKeeper holds the latest copy of the lease and serializes writes to it.
type leaseKeeper struct {
	store types.LeaseStore

	mu    sync.Mutex
	lease types.Lease
	lost    bool
	gone    bool
	aborted bool
}

func newLeaseKeeper(store types.LeaseStore, lease types.Lease) *leaseKeeper {
	return &leaseKeeper{store: store, lease: lease.Clone()}
}

func (k *leaseKeeper) current() types.Lease {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.lease.Clone()
}

// status returns whether the lease was lost or deleted.
func (k *leaseKeeper) status() (lost, gone bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.lost, k.gone
}

// abort refuses every later write. A write already in progress completes.
func (k *leaseKeeper) abort() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.aborted = true
}

func (k *leaseKeeper) isAborted() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.aborted
}

func (k *leaseKeeper) renew(ctx context.Context) error {
	return k.write(func(l types.Lease) (types.Lease, error) {
		return k.store.Renew(ctx, l)
	})
}

// checkpoint writes token unless it is already the stored position.
func (k *leaseKeeper) checkpoint(ctx context.Context, token string) error {
	k.mu.Lock()
	unchanged := k.lease.ContinuationToken == token
	k.mu.Unlock()
	if unchanged {
		return nil
	}

	return k.write(func(l types.Lease) (types.Lease, error) {
		return k.store.Checkpoint(ctx, l, token)
	})
}

func (k *leaseKeeper) write(fn func(types.Lease) (types.Lease, error)) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch {
	case k.aborted:
		return types.ErrProcessorStopped
	case k.lost:
		return types.NewConflictError(k.lease, "")
	case k.gone:
		return types.ErrLeaseNotFound
	}

	next, err := fn(k.lease)
	switch {
	case err == nil:
		k.lease = next
	case types.IsLeaseLost(err):
		k.lost = true
	case types.IsLeaseNotFound(err):
		k.gone = true
	}

	return err
}
