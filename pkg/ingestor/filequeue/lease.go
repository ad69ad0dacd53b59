package filequeue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/quarrydb/quarry/pkg/coordinator"
)

// BucketHolder is a lease on one bucket: an ephemeral lock node naming this
// worker as the bucket's current processor. The lease is bound to the
// coordinator session; if the session dies the lock vanishes and the bucket
// frees itself without any cleanup step.
type BucketHolder struct {
	Bucket int

	lockPath string
	client   coordinator.Client
	released bool
}

// TryAcquireBucket attempts to lease a bucket. It returns (holder, nil) on
// success, (nil, nil) when another worker holds the bucket, and an error on
// connection-level failures.
func (q *Queue) TryAcquireBucket(ctx context.Context, bucket int) (*BucketHolder, error) {
	if q.cfg.Buckets <= 1 {
		return nil, errors.New("bucket leases are disabled for an unsharded queue")
	}
	if bucket < 0 || bucket >= q.cfg.Buckets {
		return nil, fmt.Errorf("bucket %d outside [0,%d)", bucket, q.cfg.Buckets)
	}

	lockPath := coordinator.Join(q.cfg.RootPath, "buckets", strconv.Itoa(bucket), "lock")
	info := ProcessorInfo{Processor: q.cfg.ProcessorIdentity}
	payload, err := info.Encode()
	if err != nil {
		return nil, err
	}

	err = q.client.Create(ctx, lockPath, payload, coordinator.Ephemeral, false)
	switch {
	case err == nil:
		q.cfg.Logger.Debug("acquired bucket",
			"bucket", bucket, "processor", q.cfg.ProcessorIdentity)
		return &BucketHolder{Bucket: bucket, lockPath: lockPath, client: q.client}, nil
	case errors.Is(err, coordinator.ErrNodeExists):
		return nil, nil
	case coordinator.IsTransient(err):
		return nil, err
	default:
		return nil, fmt.Errorf("acquire bucket %d: %w", bucket, err)
	}
}

// Release drops the lease. Call it before claiming from another bucket to
// keep turnover responsive; a lease held until session death is still
// correct, just slower to free. Releasing twice is a no-op.
func (h *BucketHolder) Release(ctx context.Context) error {
	if h.released {
		return nil
	}
	err := h.client.Remove(ctx, h.lockPath, coordinator.AnyVersion)
	if err != nil && !errors.Is(err, coordinator.ErrNoNode) {
		return fmt.Errorf("release bucket %d: %w", h.Bucket, err)
	}
	h.released = true
	return nil
}
