package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leasefeed/types"
)

func TestFeed_ReadChanges(t *testing.T) {
	ctx := t.Context()
	feed := New()
	for i := range 5 {
		feed.Append("p-0", fmt.Sprintf("k-%d", i), []byte{byte(i)})
	}

	batch, err := feed.ReadChanges(ctx, "p-0", "", 2)
	require.NoError(t, err)
	require.Len(t, batch.Changes, 2)
	require.Equal(t, "2", batch.ContinuationToken)
	require.Equal(t, "k-0", batch.Changes[0].Key)
	require.Equal(t, "1", batch.Changes[0].Position)

	batch, err = feed.ReadChanges(ctx, "p-0", batch.ContinuationToken, 10)
	require.NoError(t, err)
	require.Len(t, batch.Changes, 3)
	require.Equal(t, "5", batch.ContinuationToken)
	require.Equal(t, "k-2", batch.Changes[0].Key)

	t.Run("caught up keeps the token", func(t *testing.T) {
		batch, err := feed.ReadChanges(ctx, "p-0", "5", 10)
		require.NoError(t, err)
		require.True(t, batch.IsEmpty())
		require.Equal(t, "5", batch.ContinuationToken)
	})

	t.Run("unknown partition is empty", func(t *testing.T) {
		batch, err := feed.ReadChanges(ctx, "missing", "", 10)
		require.NoError(t, err)
		require.True(t, batch.IsEmpty())
		require.Empty(t, batch.ContinuationToken)
	})
}

func TestFeed_InvalidTokens(t *testing.T) {
	ctx := t.Context()
	feed := New()
	feed.Append("p-0", "", []byte("x"))

	for _, token := range []string{"abc", "-1", "2"} {
		_, err := feed.ReadChanges(ctx, "p-0", token, 10)
		require.ErrorIs(t, err, types.ErrInvalidContinuationToken, "token %q", token)
		require.False(t, types.IsTransient(err))
	}

	_, err := feed.ReadChanges(ctx, "p-0", "", 0)
	require.Error(t, err)
}

func TestFeed_Unavailable(t *testing.T) {
	feed := New()
	feed.SetUnavailable(true)

	_, err := feed.ReadChanges(t.Context(), "p-0", "", 1)
	require.ErrorIs(t, err, types.ErrFeedUnavailable)
	require.True(t, types.IsTransient(err))

	_, err = feed.ListPartitions(t.Context())
	require.ErrorIs(t, err, types.ErrFeedUnavailable)

	feed.SetUnavailable(false)
	_, err = feed.ReadChanges(t.Context(), "p-0", "", 1)
	require.NoError(t, err)
}

func TestFeed_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := New().ReadChanges(ctx, "p-0", "", 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFeed_ListPartitions(t *testing.T) {
	feed := New()
	feed.AddPartition("p-2")
	feed.Append("p-0", "", nil)
	feed.AddPartition("p-1")
	feed.AddPartition("p-0")

	parts, err := feed.ListPartitions(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"p-0", "p-1", "p-2"}, parts)
	require.Equal(t, 1, feed.Len("p-0"), "AddPartition must not reset an existing log")

	feed.RemovePartition("p-1")
	parts, err = feed.ListPartitions(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"p-0", "p-2"}, parts)
}

func TestFeed_AppendCopiesData(t *testing.T) {
	feed := New()
	data := []byte("abc")
	feed.Append("p-0", "", data)
	data[0] = 'z'

	batch, err := feed.ReadChanges(t.Context(), "p-0", "", 1)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), batch.Changes[0].Data)
}
