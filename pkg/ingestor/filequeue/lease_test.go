package filequeue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/coordinator"
	"github.com/quarrydb/quarry/pkg/coordinator/memcoord"
)

func TestTryAcquireBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := memcoord.New()
	qA, _ := newWorker(t, coord, Config{Buckets: 4, ProcessorIdentity: "worker-a"})
	qB, _ := newWorker(t, coord, Config{Buckets: 4, ProcessorIdentity: "worker-b"})
	require.NoError(t, qA.BootstrapLayout(ctx))

	holder, err := qA.TryAcquireBucket(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, 2, holder.Bucket)

	// busy for the other worker, not an error
	busy, err := qB.TryAcquireBucket(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, busy)

	// other buckets stay free
	other, err := qB.TryAcquireBucket(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, other)

	require.NoError(t, holder.Release(ctx))
	require.NoError(t, holder.Release(ctx)) // releasing twice is fine

	reacquired, err := qB.TryAcquireBucket(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, reacquired)
}

func TestTryAcquireBucketValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := memcoord.New()

	unsharded, _ := newWorker(t, coord, Config{Buckets: 1})
	_, err := unsharded.TryAcquireBucket(ctx, 0)
	require.Error(t, err)

	sharded, _ := newWorker(t, coord, Config{Buckets: 4})
	_, err = sharded.TryAcquireBucket(ctx, 4)
	require.Error(t, err)
	_, err = sharded.TryAcquireBucket(ctx, -1)
	require.Error(t, err)
}

// Session death releases the lease without any cleanup step.
func TestBucketLeaseFreedBySessionDeath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := memcoord.New()
	qA, sessionA := newWorker(t, coord, Config{Buckets: 4, ProcessorIdentity: "worker-a"})
	qB, _ := newWorker(t, coord, Config{Buckets: 4, ProcessorIdentity: "worker-b"})
	require.NoError(t, qA.BootstrapLayout(ctx))

	holder, err := qA.TryAcquireBucket(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, holder)

	require.NoError(t, sessionA.Close())

	reacquired, err := qB.TryAcquireBucket(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, reacquired)
}

func TestTryAcquireBucketTransient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := memcoord.New()
	q, session := newWorker(t, coord, Config{Buckets: 4})
	require.NoError(t, q.BootstrapLayout(ctx))

	coord.SetInterceptor(func(id int64, op, path string) error {
		if id == session.ID() && op == "create" {
			return coordinator.ErrConnLoss
		}
		return nil
	})
	_, err := q.TryAcquireBucket(ctx, 0)
	require.Error(t, err)
	assert.True(t, coordinator.IsTransient(err))
}
