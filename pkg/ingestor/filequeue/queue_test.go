package filequeue

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/coordinator"
	"github.com/quarrydb/quarry/pkg/coordinator/memcoord"
)

const testRoot = "/queue"

// newWorker opens a fresh session on the shared coordinator and builds a
// queue over it, simulating one worker replica.
func newWorker(t *testing.T, coord *memcoord.Coordinator, cfg Config) (*Queue, *memcoord.Session) {
	t.Helper()
	if cfg.RootPath == "" {
		cfg.RootPath = testRoot
	}
	session := coord.NewSession()
	q, err := New(session, cfg)
	require.NoError(t, err)
	return q, session
}

// cursorFilePath reads the file_path recorded in a cursor node.
func cursorFilePath(t *testing.T, s *memcoord.Session, cursorPath string) string {
	t.Helper()
	data, _, err := s.Get(context.Background(), cursorPath)
	require.NoError(t, err)
	meta, err := DecodeNodeMetadata(data)
	require.NoError(t, err)
	return meta.FilePath
}

// assertNoQueueResidue fails if any per-file state nodes remain.
func assertNoQueueResidue(t *testing.T, coord *memcoord.Coordinator) {
	t.Helper()
	for path := range coord.Dump() {
		for _, dir := range []string{"/processing/", "/processing_id/", "/failed/"} {
			if strings.HasPrefix(path, testRoot+dir) {
				t.Fatalf("leftover state node %s", path)
			}
		}
	}
}

func TestBootstrapLayoutIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := memcoord.New()
	q, _ := newWorker(t, coord, Config{Buckets: 4})

	require.NoError(t, q.BootstrapLayout(ctx))
	first := coord.Dump()

	require.NoError(t, q.BootstrapLayout(ctx))
	require.NoError(t, q.BootstrapLayout(ctx))
	assert.Equal(t, first, coord.Dump())

	for _, rel := range []string{"failed", "processing", "processing_id", "buckets", "buckets/0", "buckets/3"} {
		_, _, err := q.client.Get(ctx, coordinator.Join(testRoot, rel))
		assert.NoError(t, err, rel)
	}
}

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"failed", "processing", "processing_id"},
		LayoutPaths(1))
	assert.Equal(t,
		[]string{"failed", "processing", "processing_id", "buckets", "buckets/0", "buckets/1"},
		LayoutPaths(2))
}

// Single bucket, single worker: files commit in order, the cursor ends at
// the greatest path, and no per-file nodes survive.
func TestSingleBucketSingleWorker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := memcoord.New()
	q, session := newWorker(t, coord, Config{Buckets: 1})
	require.NoError(t, q.BootstrapLayout(ctx))

	for _, path := range []string{"a", "b", "c"} {
		f := q.File(path)
		outcome, err := f.SetProcessing(ctx)
		require.NoError(t, err)
		require.Equal(t, Claimed, outcome, path)
		require.NoError(t, f.SetProcessed(ctx))
	}

	assert.Equal(t, "c", cursorFilePath(t, session, testRoot+"/processed"))
	assertNoQueueResidue(t, coord)

	// the whole batch is now subsumed by the cursor
	for _, path := range []string{"a", "b", "c"} {
		outcome, err := q.File(path).SetProcessing(ctx)
		require.NoError(t, err)
		assert.Equal(t, AlreadyProcessed, outcome, path)
	}
}

// Bucketed ordering: four paths in four distinct buckets can all be in
// flight at once, and each bucket's cursor ends at exactly its own path.
func TestBucketedOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const buckets = 4
	coord := memcoord.New()
	q, session := newWorker(t, coord, Config{Buckets: buckets})
	require.NoError(t, q.BootstrapLayout(ctx))

	// find one path per bucket
	byBucket := map[int]string{}
	for i := 0; len(byBucket) < buckets; i++ {
		path := fmt.Sprintf("file-%04d", i)
		b := BucketForPath(path, 0, buckets)
		if _, taken := byBucket[b]; !taken {
			byBucket[b] = path
		}
	}

	files := map[int]*FileMetadata{}
	for b, path := range byBucket {
		f := q.File(path)
		require.Equal(t, b, f.Bucket())
		outcome, err := f.SetProcessing(ctx)
		require.NoError(t, err)
		require.Equal(t, Claimed, outcome, path)
		files[b] = f
	}

	// all four hold processing claims simultaneously
	for _, path := range byBucket {
		_, _, err := session.Get(ctx, coordinator.Join(testRoot, "processing", EncodeNodeName(path)))
		require.NoError(t, err)
	}

	for b, f := range files {
		require.NoError(t, f.SetProcessed(ctx))
		got := cursorFilePath(t, session, fmt.Sprintf("%s/buckets/%d/processed", testRoot, b))
		assert.Equal(t, byBucket[b], got)
	}
	assertNoQueueResidue(t, coord)
}

func TestSetProcessedAtStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := memcoord.New()
	q, session := newWorker(t, coord, Config{Buckets: 4})
	require.NoError(t, q.BootstrapLayout(ctx))

	require.NoError(t, q.SetProcessedAtStart(ctx, "m"))
	for b := 0; b < 4; b++ {
		got := cursorFilePath(t, session, fmt.Sprintf("%s/buckets/%d/processed", testRoot, b))
		assert.Equal(t, "m", got, "bucket %d", b)
	}

	// a lower mark leaves existing cursors alone
	require.NoError(t, q.SetProcessedAtStart(ctx, "b"))
	for b := 0; b < 4; b++ {
		got := cursorFilePath(t, session, fmt.Sprintf("%s/buckets/%d/processed", testRoot, b))
		assert.Equal(t, "m", got, "bucket %d", b)
	}

	// files at or before the mark are skipped, later files claim normally
	outcome, err := q.File("k").SetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, outcome)

	outcome, err = q.File("m").SetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, outcome)

	outcome, err = q.File("n").SetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, Claimed, outcome)
}

func TestSetProcessedAtStartUnsharded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := memcoord.New()
	q, session := newWorker(t, coord, Config{Buckets: 1})
	require.NoError(t, q.BootstrapLayout(ctx))

	require.NoError(t, q.SetProcessedAtStart(ctx, "2024/12/31.parquet"))
	assert.Equal(t, "2024/12/31.parquet", cursorFilePath(t, session, testRoot+"/processed"))
}

func TestNewValidatesRoot(t *testing.T) {
	t.Parallel()
	coord := memcoord.New()
	_, err := New(coord.NewSession(), Config{RootPath: "relative/root"})
	require.Error(t, err)
}
