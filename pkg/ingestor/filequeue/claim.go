package filequeue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydb/quarry/pkg/coordinator"
)

// ClaimOutcome enumerates the expected results of SetProcessing. None of
// these is exceptional; they are part of the state machine's contract.
type ClaimOutcome int

const (
	// Claimed: the file moved to Processing and this worker owns it.
	Claimed ClaimOutcome = iota
	// AlreadyProcessed: the bucket cursor subsumes this path.
	AlreadyProcessed
	// AlreadyInFlight: another worker holds the processing claim.
	AlreadyInFlight
	// PermanentlyFailed: the path exhausted its retries earlier.
	PermanentlyFailed
)

func (o ClaimOutcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case AlreadyProcessed:
		return "already_processed"
	case AlreadyInFlight:
		return "already_in_flight"
	case PermanentlyFailed:
		return "permanently_failed"
	default:
		return "unknown"
	}
}

// ErrFenced is returned when the processing-id version this worker holds no
// longer matches: another worker owns the file now, and no further mutation
// was made.
var ErrFenced = errors.New("processing claim fenced by another worker")

// noVersion marks an unheld fencing token.
const noVersion int32 = -1

// FileMetadata drives the claim state machine for one candidate path. It is
// not safe for concurrent use; each claimed file gets its own handle.
type FileMetadata struct {
	queue  *Queue
	client coordinator.Client

	path   string
	bucket int

	processingPath   string
	processingIDPath string
	failedPath       string
	retriablePath    string
	cursorPath       string

	nodeMeta NodeMetadata

	processingID string
	// processingIDVersion is the fencing token obtained at claim time;
	// noVersion when this worker holds no claim.
	processingIDVersion int32

	status *FileStatus
}

// File returns the claim handle for one candidate path.
func (q *Queue) File(path string) *FileMetadata {
	enc := EncodeNodeName(path)
	failedPath := coordinator.Join(q.cfg.RootPath, "failed", enc)
	return &FileMetadata{
		queue:               q,
		client:              q.client,
		path:                path,
		bucket:              BucketForPath(path, q.cfg.HashSeed, q.cfg.Buckets),
		processingPath:      coordinator.Join(q.cfg.RootPath, "processing", enc),
		processingIDPath:    coordinator.Join(q.cfg.RootPath, "processing_id", enc),
		failedPath:          failedPath,
		retriablePath:       failedPath + ".retriable",
		cursorPath:          q.cursorPathFor(path),
		nodeMeta:            NodeMetadata{FilePath: path},
		processingIDVersion: noVersion,
		status:              q.statuses.Get(path),
	}
}

// Path returns the object path this handle is for.
func (f *FileMetadata) Path() string { return f.path }

// Bucket returns the shard the path hashes to.
func (f *FileMetadata) Bucket() int { return f.bucket }

// ProcessingID returns the random id assigned by the last SetProcessing.
func (f *FileMetadata) ProcessingID() string { return f.processingID }

// FencingToken returns the processing-id node version proving ownership, or
// noVersion semantics (-1) when no claim is held.
func (f *FileMetadata) FencingToken() int32 { return f.processingIDVersion }

// SetProcessing moves the file from None to Processing, or reports why it
// could not move. On Claimed the handle holds the fencing token every later
// transition is guarded by.
func (f *FileMetadata) SetProcessing(ctx context.Context) (ClaimOutcome, error) {
	f.processingID = uuid.NewString()
	f.nodeMeta.ProcessingID = f.processingID
	meta, err := f.nodeMeta.Encode()
	if err != nil {
		return 0, err
	}
	info := ProcessorInfo{Processor: f.queue.cfg.ProcessorIdentity, ProcessingID: f.processingID}
	processorInfo, err := info.Encode()
	if err != nil {
		return 0, err
	}

	// Fixed op positions inside the claim transaction.
	const (
		reqFailedProbe      = 0
		reqCreateProcessing = 2
		reqSetProcessingID  = 4
		reqCursor           = 5
	)

	for attempt := 0; attempt < f.queue.cfg.ContentionRetries; attempt++ {
		cursor, cursorVersion, hasCursor, err := readCursor(ctx, f.client, f.cursorPath)
		if err != nil {
			return 0, err
		}
		if hasCursor && cursor.FilePath != "" && f.path <= cursor.FilePath {
			return AlreadyProcessed, nil
		}

		// The probe pair on failed/ asserts absence: the coordinator's multi
		// only has positive assertions, so create-then-remove with any-version
		// leaves no trace yet fails when the node is present.
		ops := []coordinator.Op{
			coordinator.CreateOp(f.failedPath, nil, coordinator.Persistent),
			coordinator.RemoveOp(f.failedPath, coordinator.AnyVersion),
			coordinator.CreateOp(f.processingPath, meta, coordinator.Ephemeral),
			coordinator.CreateIgnoreExistsOp(f.processingIDPath, processorInfo),
			coordinator.SetOp(f.processingIDPath, processorInfo, coordinator.AnyVersion),
		}
		if hasCursor {
			ops = append(ops, coordinator.CheckOp(f.cursorPath, cursorVersion))
		} else {
			ops = append(ops,
				coordinator.CreateOp(f.cursorPath, nil, coordinator.Persistent),
				coordinator.RemoveOp(f.cursorPath, coordinator.AnyVersion))
		}

		results, err := f.client.Multi(ctx, ops)
		if err == nil {
			f.processingIDVersion = results[reqSetProcessingID].Version
			f.status.setProcessing(f.processingID)
			return Claimed, nil
		}

		var txn *coordinator.TxnError
		if !errors.As(err, &txn) {
			return 0, err
		}
		switch {
		case txn.Index == reqFailedProbe && errors.Is(txn.Err, coordinator.ErrNodeExists):
			return PermanentlyFailed, nil
		case txn.Index == reqCreateProcessing && errors.Is(txn.Err, coordinator.ErrNodeExists):
			return AlreadyInFlight, nil
		case txn.Index >= reqCursor:
			f.queue.cfg.Logger.Debug("processed cursor advanced during claim, retrying",
				"path", f.path, "bucket", f.bucket)
			continue
		default:
			return 0, fmt.Errorf("claim %q: %w", f.path, txn)
		}
	}
	return 0, fmt.Errorf("claim %q: %w", f.path, ErrTooManyRetries)
}

// SetProcessed advances the bucket cursor to this path and releases the
// claim, atomically. A connection-level failure here is logged and treated
// as success: the ephemeral claim dies with the session and another worker
// redoes the file, bounded by the cursor invariant.
func (f *FileMetadata) SetProcessed(ctx context.Context) error {
	f.nodeMeta.LastProcessedTimestamp = time.Now().Unix()
	payload, err := f.nodeMeta.Encode()
	if err != nil {
		return err
	}

	for attempt := 0; attempt < f.queue.cfg.ContentionRetries; attempt++ {
		cursor, cursorVersion, hasCursor, err := readCursor(ctx, f.client, f.cursorPath)
		if err != nil {
			if coordinator.IsTransient(err) {
				f.queue.cfg.Logger.Warn("lost coordinator while committing, leaving file to be redone",
					"path", f.path, "error", err)
				return nil
			}
			return err
		}
		if hasCursor && cursor.FilePath != "" && f.path <= cursor.FilePath {
			// Cursor already subsumes this file; just drop the claim nodes.
			f.releaseClaim(ctx)
			f.status.setProcessed()
			return nil
		}

		ops := []coordinator.Op{}
		if hasCursor {
			ops = append(ops, coordinator.SetOp(f.cursorPath, payload, cursorVersion))
		} else {
			ops = append(ops, coordinator.CreateOp(f.cursorPath, payload, coordinator.Persistent))
		}
		fenceCheck := -1
		if f.processingIDVersion != noVersion {
			fenceCheck = len(ops)
			ops = append(ops,
				coordinator.CheckOp(f.processingIDPath, f.processingIDVersion),
				coordinator.RemoveOp(f.processingIDPath, f.processingIDVersion),
				coordinator.RemoveOp(f.processingPath, coordinator.AnyVersion))
		}

		_, err = f.client.Multi(ctx, ops)
		if err == nil {
			if f.queue.cfg.MaxLoadingRetries > 0 {
				// best effort: stale retry counters are harmless
				_ = f.client.Remove(ctx, f.retriablePath, coordinator.AnyVersion)
			}
			f.processingIDVersion = noVersion
			f.status.setProcessed()
			return nil
		}

		var txn *coordinator.TxnError
		if !errors.As(err, &txn) {
			f.queue.cfg.Logger.Warn("lost coordinator while committing, leaving file to be redone",
				"path", f.path, "error", err)
			return nil
		}
		switch {
		case txn.Index == 0:
			f.queue.cfg.Logger.Debug("processed cursor advanced during commit, retrying",
				"path", f.path, "bucket", f.bucket)
			continue
		case txn.Index == fenceCheck:
			return fmt.Errorf("commit %q: %w", f.path, ErrFenced)
		default:
			return fmt.Errorf("commit %q: %w", f.path, txn)
		}
	}
	return fmt.Errorf("commit %q: %w", f.path, ErrTooManyRetries)
}

// releaseClaim drops the processing and processing-id nodes under the fencing
// token, best effort.
func (f *FileMetadata) releaseClaim(ctx context.Context) {
	if f.processingIDVersion == noVersion {
		return
	}
	ops := []coordinator.Op{
		coordinator.CheckOp(f.processingIDPath, f.processingIDVersion),
		coordinator.RemoveOp(f.processingIDPath, f.processingIDVersion),
		coordinator.RemoveOp(f.processingPath, coordinator.AnyVersion),
	}
	if _, err := f.client.Multi(ctx, ops); err != nil {
		f.queue.cfg.Logger.Warn("failed to release processing claim",
			"path", f.path, "error", err)
		return
	}
	f.processingIDVersion = noVersion
}

// SetFailed records a processing failure. While the path has retry budget
// left the failure is retriable: a counter at failed/<name>.retriable is
// bumped and the file returns to None for another attempt. Once the counter
// reaches MaxLoadingRetries (or retries are disabled) the failure is
// terminal: a persistent failed/<name> node blocks all future claims. The
// cursor never advances on failure.
func (f *FileMetadata) SetFailed(ctx context.Context, reason string) error {
	f.nodeMeta.LastException = reason

	if f.queue.cfg.MaxLoadingRetries == 0 {
		return f.setFailedTerminal(ctx, false)
	}
	return f.setFailedRetriable(ctx)
}

func (f *FileMetadata) setFailedTerminal(ctx context.Context, dropCounter bool) error {
	payload, err := f.nodeMeta.Encode()
	if err != nil {
		return err
	}
	ops := []coordinator.Op{
		coordinator.CreateOp(f.failedPath, payload, coordinator.Persistent),
	}
	if dropCounter {
		ops = append(ops, coordinator.RemoveOp(f.retriablePath, coordinator.AnyVersion))
	}
	fenceCheck := -1
	if f.processingIDVersion != noVersion {
		fenceCheck = len(ops)
		ops = append(ops,
			coordinator.CheckOp(f.processingIDPath, f.processingIDVersion),
			coordinator.RemoveOp(f.processingIDPath, f.processingIDVersion),
			coordinator.RemoveOp(f.processingPath, coordinator.AnyVersion))
	}

	_, err = f.client.Multi(ctx, ops)
	if err != nil {
		var txn *coordinator.TxnError
		if errors.As(err, &txn) && txn.Index == fenceCheck {
			return fmt.Errorf("fail %q: %w", f.path, ErrFenced)
		}
		return fmt.Errorf("fail %q: %w", f.path, err)
	}
	f.processingIDVersion = noVersion
	f.status.setFailed(f.nodeMeta.LastException)
	f.queue.cfg.Logger.Info("file permanently failed",
		"path", f.path, "reason", f.nodeMeta.LastException, "retries", f.nodeMeta.Retries)
	return nil
}

func (f *FileMetadata) setFailedRetriable(ctx context.Context) error {
	for attempt := 0; attempt < f.queue.cfg.ContentionRetries; attempt++ {
		retries := 0
		counterVersion := noVersion
		data, version, err := f.client.Get(ctx, f.retriablePath)
		switch {
		case err == nil:
			retries, err = strconv.Atoi(string(data))
			if err != nil {
				return fmt.Errorf("retry counter %s: %w", f.retriablePath, err)
			}
			counterVersion = version
		case errors.Is(err, coordinator.ErrNoNode):
			// first failure
		default:
			return err
		}

		f.nodeMeta.Retries = retries + 1
		if f.nodeMeta.Retries > f.queue.cfg.MaxLoadingRetries {
			return f.setFailedTerminal(ctx, counterVersion != noVersion)
		}

		counter := []byte(strconv.Itoa(f.nodeMeta.Retries))
		ops := []coordinator.Op{}
		if counterVersion != noVersion {
			ops = append(ops, coordinator.SetOp(f.retriablePath, counter, counterVersion))
		} else {
			ops = append(ops, coordinator.CreateOp(f.retriablePath, counter, coordinator.Persistent))
		}
		fenceCheck := -1
		if f.processingIDVersion != noVersion {
			fenceCheck = len(ops)
			ops = append(ops,
				coordinator.CheckOp(f.processingIDPath, f.processingIDVersion),
				coordinator.RemoveOp(f.processingIDPath, f.processingIDVersion),
				coordinator.RemoveOp(f.processingPath, coordinator.AnyVersion))
		}

		_, err = f.client.Multi(ctx, ops)
		if err == nil {
			f.processingIDVersion = noVersion
			f.status.setRetried(f.nodeMeta.Retries, f.nodeMeta.LastException)
			f.queue.cfg.Logger.Info("file failed, will retry",
				"path", f.path, "retries", f.nodeMeta.Retries,
				"max_retries", f.queue.cfg.MaxLoadingRetries,
				"reason", f.nodeMeta.LastException)
			return nil
		}
		var txn *coordinator.TxnError
		if !errors.As(err, &txn) {
			return err
		}
		switch {
		case txn.Index == fenceCheck:
			return fmt.Errorf("fail %q: %w", f.path, ErrFenced)
		case txn.Index == 0:
			// counter raced with another transition
			continue
		default:
			return fmt.Errorf("fail %q: %w", f.path, txn)
		}
	}
	return fmt.Errorf("fail %q: %w", f.path, ErrTooManyRetries)
}
