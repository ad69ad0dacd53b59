package filequeue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/quarrydb/quarry/pkg/coordinator"
)

// ErrTooManyRetries is returned when a coordinator retry loop exhausted its
// budget without a definitive outcome. Like a connection-level failure, it
// leaves the file untouched and the caller decides whether to try again.
var ErrTooManyRetries = errors.New("too many coordinator retries")

// Queue is the coordination handle for one ingestion queue. It owns no file
// contents and touches nothing outside Config.RootPath on the coordinator.
type Queue struct {
	client   coordinator.Client
	cfg      Config
	statuses *FileStatuses
}

// New builds a queue over an open coordinator session.
func New(client coordinator.Client, cfg Config) (*Queue, error) {
	cfg = cfg.withDefaults()
	if err := coordinator.ValidatePath(cfg.RootPath); err != nil {
		return nil, fmt.Errorf("queue root: %w", err)
	}
	cfg.Logger = cfg.Logger.With("component", "filequeue")
	return &Queue{
		client:   client,
		cfg:      cfg,
		statuses: NewFileStatuses(),
	}, nil
}

// Statuses returns the in-worker file status registry.
func (q *Queue) Statuses() *FileStatuses { return q.statuses }

// Buckets returns the configured shard count.
func (q *Queue) Buckets() int { return q.cfg.Buckets }

// LayoutPaths lists the persistent directories, relative to the root, that
// must exist before any worker runs.
func LayoutPaths(buckets int) []string {
	paths := []string{"failed", "processing", "processing_id"}
	if buckets > 1 {
		paths = append(paths, "buckets")
		for i := 0; i < buckets; i++ {
			paths = append(paths, "buckets/"+strconv.Itoa(i))
		}
	}
	return paths
}

// BootstrapLayout idempotently creates the queue's persistent directories.
// Cursor nodes are created lazily by the claim state machine, not here.
func (q *Queue) BootstrapLayout(ctx context.Context) error {
	if err := q.client.Create(ctx, q.cfg.RootPath, nil, coordinator.Persistent, true); err != nil {
		return fmt.Errorf("bootstrap %s: %w", q.cfg.RootPath, err)
	}
	for _, rel := range LayoutPaths(q.cfg.Buckets) {
		path := coordinator.Join(q.cfg.RootPath, rel)
		if err := q.client.Create(ctx, path, nil, coordinator.Persistent, true); err != nil {
			return fmt.Errorf("bootstrap %s: %w", path, err)
		}
	}
	return nil
}

// bucketCursorPath is the processed cursor for one bucket of a sharded queue.
func (q *Queue) bucketCursorPath(bucket int) string {
	return coordinator.Join(q.cfg.RootPath, "buckets", strconv.Itoa(bucket), "processed")
}

// cursorPathFor returns the processed cursor governing a path.
func (q *Queue) cursorPathFor(path string) string {
	if q.cfg.Buckets > 1 {
		return q.bucketCursorPath(BucketForPath(path, q.cfg.HashSeed, q.cfg.Buckets))
	}
	return coordinator.Join(q.cfg.RootPath, "processed")
}

// cursorPaths lists every processed cursor of the queue.
func (q *Queue) cursorPaths() []string {
	if q.cfg.Buckets <= 1 {
		return []string{coordinator.Join(q.cfg.RootPath, "processed")}
	}
	paths := make([]string, 0, q.cfg.Buckets)
	for i := 0; i < q.cfg.Buckets; i++ {
		paths = append(paths, q.bucketCursorPath(i))
	}
	return paths
}

// readCursor fetches a processed cursor. Absence is not an error.
func readCursor(ctx context.Context, client coordinator.Client, cursorPath string) (meta NodeMetadata, version int32, exists bool, err error) {
	data, version, err := client.Get(ctx, cursorPath)
	if errors.Is(err, coordinator.ErrNoNode) {
		return NodeMetadata{}, 0, false, nil
	}
	if err != nil {
		return NodeMetadata{}, 0, false, err
	}
	if len(data) == 0 {
		return NodeMetadata{}, version, true, nil
	}
	meta, err = DecodeNodeMetadata(data)
	if err != nil {
		return NodeMetadata{}, 0, false, fmt.Errorf("cursor %s: %w", cursorPath, err)
	}
	return meta, version, true, nil
}

// SetProcessedAtStart records a high-water mark when the queue is
// (re)attached: every bucket cursor (or the single root cursor) advances to
// path unless it already subsumes it. Files ordered at or before path are
// skipped by subsequent claims.
func (q *Queue) SetProcessedAtStart(ctx context.Context, path string) error {
	meta := NodeMetadata{FilePath: path}
	payload, err := meta.Encode()
	if err != nil {
		return err
	}
	for attempt := 0; attempt < q.cfg.ContentionRetries; attempt++ {
		var ops []coordinator.Op
		for _, cursorPath := range q.cursorPaths() {
			cursor, version, exists, err := readCursor(ctx, q.client, cursorPath)
			if err != nil {
				return err
			}
			switch {
			case exists && cursor.FilePath != "" && path <= cursor.FilePath:
				// an earlier cursor already subsumes the mark
			case exists:
				ops = append(ops, coordinator.SetOp(cursorPath, payload, version))
			default:
				ops = append(ops, coordinator.CreateOp(cursorPath, payload, coordinator.Persistent))
			}
		}
		if len(ops) == 0 {
			return nil
		}
		_, err := q.client.Multi(ctx, ops)
		if err == nil {
			return nil
		}
		var txn *coordinator.TxnError
		if errors.As(err, &txn) {
			q.cfg.Logger.Debug("cursor advanced while setting high-water mark, retrying",
				"path", path, "failed_op", txn.Index)
			continue
		}
		return err
	}
	return fmt.Errorf("high-water mark %q: %w", path, ErrTooManyRetries)
}
