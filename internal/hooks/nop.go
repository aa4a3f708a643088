// Package hooks provides the default no-op lifecycle hooks.
package hooks

import (
	"context"

	"github.com/arloliu/leasefeed/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.Lease) error                                   = (*NopHooks)(nil).OnLeaseAcquired
	_ func(context.Context, string, types.LeaseState, types.LeaseState) error = (*NopHooks)(nil).OnLeaseStateChanged
	_ func(context.Context, error) error                                         = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnLeaseAcquired:     h.OnLeaseAcquired,
		OnLeaseReleased:     h.OnLeaseReleased,
		OnLeaseLost:         h.OnLeaseLost,
		OnLeaseStateChanged: h.OnLeaseStateChanged,
		OnError:             h.OnError,
	}
}

// Merge returns custom with every nil callback replaced by its no-op version.
//
// Parameters:
//   - custom: User hooks, may be nil
//
// Returns:
//   - types.Hooks: Hooks with all callbacks set
func Merge(custom *types.Hooks) types.Hooks {
	out := NewNop()
	if custom == nil {
		return out
	}

	if custom.OnLeaseAcquired != nil {
		out.OnLeaseAcquired = custom.OnLeaseAcquired
	}
	if custom.OnLeaseReleased != nil {
		out.OnLeaseReleased = custom.OnLeaseReleased
	}
	if custom.OnLeaseLost != nil {
		out.OnLeaseLost = custom.OnLeaseLost
	}
	if custom.OnLeaseStateChanged != nil {
		out.OnLeaseStateChanged = custom.OnLeaseStateChanged
	}
	if custom.OnError != nil {
		out.OnError = custom.OnError
	}

	return out
}

// OnLeaseAcquired is a no-op implementation.
func (h *NopHooks) OnLeaseAcquired(ctx context.Context, lease types.Lease) error {
	return nil
}

// OnLeaseReleased is a no-op implementation.
func (h *NopHooks) OnLeaseReleased(ctx context.Context, lease types.Lease) error {
	return nil
}

// OnLeaseLost is a no-op implementation.
func (h *NopHooks) OnLeaseLost(ctx context.Context, lease types.Lease) error {
	return nil
}

// OnLeaseStateChanged is a no-op implementation.
func (h *NopHooks) OnLeaseStateChanged(ctx context.Context, leaseToken string, from, to types.LeaseState) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(ctx context.Context, err error) error {
	return nil
}
