package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leasefeed/store/memory"
	"github.com/arloliu/leasefeed/types"
)

func TestPublisher_Start(t *testing.T) {
	t.Run("publishes initial heartbeat", func(t *testing.T) {
		ctx := t.Context()
		store := memory.New()

		publisher := New(store, "host-a", 50*time.Millisecond, time.Second)
		require.NoError(t, publisher.Start(ctx))
		require.True(t, publisher.IsStarted())
		require.Equal(t, "host-a", publisher.HostID())

		hosts, err := store.ActiveHosts(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"host-a"}, hosts)

		require.NoError(t, publisher.Stop(ctx))
		require.False(t, publisher.IsStarted())

		hosts, err = store.ActiveHosts(ctx)
		require.NoError(t, err)
		require.Empty(t, hosts, "stop must deregister the host")
	})

	t.Run("returns error if host ID not set", func(t *testing.T) {
		publisher := New(memory.New(), "", time.Second, 3*time.Second)
		require.ErrorIs(t, publisher.Start(t.Context()), ErrNoHostID)
		require.False(t, publisher.IsStarted())
	})

	t.Run("returns error if already started", func(t *testing.T) {
		ctx := t.Context()
		publisher := New(memory.New(), "host-a", time.Second, 3*time.Second)

		require.NoError(t, publisher.Start(ctx))
		require.ErrorIs(t, publisher.Start(ctx), ErrAlreadyStarted)
		require.NoError(t, publisher.Stop(ctx))
	})

	t.Run("initial heartbeat failure is reported", func(t *testing.T) {
		store := memory.New()
		store.SetUnavailable(true)

		publisher := New(store, "host-a", time.Second, 3*time.Second)
		err := publisher.Start(t.Context())
		require.ErrorIs(t, err, types.ErrStoreUnavailable)
		require.False(t, publisher.IsStarted())
	})
}

func TestPublisher_Stop(t *testing.T) {
	t.Run("returns error if not started", func(t *testing.T) {
		publisher := New(memory.New(), "host-a", time.Second, 3*time.Second)
		require.ErrorIs(t, publisher.Stop(t.Context()), ErrNotStarted)
	})

	t.Run("can restart after stop", func(t *testing.T) {
		ctx := t.Context()
		publisher := New(memory.New(), "host-a", 20*time.Millisecond, time.Second)

		require.NoError(t, publisher.Start(ctx))
		require.NoError(t, publisher.Stop(ctx))
		require.NoError(t, publisher.Start(ctx))
		require.NoError(t, publisher.Stop(ctx))
	})
}

func TestPublisher_KeepsPresenceAlive(t *testing.T) {
	ctx := t.Context()
	store := memory.New()

	publisher := New(store, "host-a", 20*time.Millisecond, 60*time.Millisecond)
	require.NoError(t, publisher.Start(ctx))
	defer func() { _ = publisher.Stop(ctx) }()

	// Well past the first TTL; periodic heartbeats keep the host present.
	time.Sleep(200 * time.Millisecond)

	hosts, err := store.ActiveHosts(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"host-a"}, hosts)
}
