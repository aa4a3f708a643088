package kvutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	lftest "github.com/arloliu/leasefeed/testing"
)

func TestEnsureBucket_ConcurrentCreates(t *testing.T) {
	_, nc := lftest.StartEmbeddedNATS(t)
	js := lftest.JetStream(t, nc)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	const hosts = 5
	var wg sync.WaitGroup
	errs := make(chan error, hosts)
	kvs := make([]jetstream.KeyValue, hosts)

	for i := range hosts {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			kv, err := EnsureBucket(ctx, js, jetstream.KeyValueConfig{
				Bucket:  "test-concurrent-bucket",
				History: 1,
				Storage: jetstream.MemoryStorage,
			}, 5)
			if err != nil {
				errs <- err
				return
			}
			kvs[idx] = kv
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for _, kv := range kvs {
		require.NotNil(t, kv)
		require.Equal(t, "test-concurrent-bucket", kv.Bucket())
	}
}

func TestEnsureBucket_OpensExisting(t *testing.T) {
	_, nc := lftest.StartEmbeddedNATS(t)
	js := lftest.JetStream(t, nc)
	ctx := t.Context()

	first := lftest.CreateJetStreamKV(t, nc, "existing")
	_, err := first.Put(ctx, "k", []byte("v"))
	require.NoError(t, err)

	kv, err := EnsureBucket(ctx, js, jetstream.KeyValueConfig{Bucket: "existing", Storage: jetstream.MemoryStorage, Description: "different"}, 0)
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), entry.Value())
}

func TestEncodeDecodeKey(t *testing.T) {
	for _, id := range []string{"p-0", "range/00-ff", "host a:1", "日本", ""} {
		key := EncodeKey(id)
		require.Regexp(t, `^[-/_=.a-zA-Z0-9]*$`, key)

		decoded, err := DecodeKey(key)
		require.NoError(t, err)
		require.Equal(t, id, decoded)
	}

	_, err := DecodeKey("%%%")
	require.Error(t, err)
}
