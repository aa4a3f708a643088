// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leasefeed/internal/backoff"
)

// EnsureBucket creates or opens a KV bucket, retrying transient failures.
//
// Several hosts typically start at once and race to create the same bucket;
// losing that race (ErrBucketExists) simply opens the existing bucket.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - cfg: KV bucket configuration
//   - maxAttempts: Maximum number of attempts (defaults to 3 when <= 0)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: The last error once all attempts failed
//
// Example:
//
//	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
//	    Bucket: "leasefeed-presence",
//	    TTL:    6 * time.Second,
//	}, 3)
func EnsureBucket(
	ctx context.Context,
	js jetstream.JetStream,
	cfg jetstream.KeyValueConfig,
	maxAttempts int,
) (jetstream.KeyValue, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	policy := backoff.Policy{
		MaxAttempts: maxAttempts,
		Base:        10 * time.Millisecond,
		Max:         500 * time.Millisecond,
		Multiplier:  2,
	}

	var kv jetstream.KeyValue
	err := backoff.Retry(ctx, policy, func(error) bool { return ctx.Err() == nil }, func(ctx context.Context) error {
		created, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			kv = created
			return nil
		}
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return err
		}

		existing, err := js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			return fmt.Errorf("bucket exists but failed to open: %w", err)
		}
		kv = existing

		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w", cfg.Bucket, maxAttempts, err)
	}

	return kv, nil
}

// EncodeKey maps an arbitrary identifier to a valid KV key.
//
// KV keys only allow [-/_=.a-zA-Z0-9]; unpadded base64url output stays within
// that set and is reversible.
func EncodeKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeKey reverses EncodeKey.
func DecodeKey(key string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("malformed key %q: %w", key, err)
	}

	return string(raw), nil
}
