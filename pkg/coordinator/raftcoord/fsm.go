package raftcoord

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"

	"github.com/quarrydb/quarry/pkg/coordinator"
)

var (
	// node tree, keyed by absolute path. The B-tree key order gives us cheap
	// has-children checks by prefix seek.
	bucketNodes = []byte("nodes")
	// live sessions, keyed by session id.
	bucketSessions = []byte("sessions")
	// raft bookkeeping
	bucketMeta = []byte("meta")
)

var (
	keyAppliedIndex = []byte("applied_index")
	keyAppliedTerm  = []byte("applied_term")
)

// nodeRecord is the BoltDB value for one tree node.
type nodeRecord struct {
	Data    []byte `json:"data,omitempty"`
	Version int32  `json:"version"`
	// Owner is the session holding an ephemeral node; empty for persistent.
	Owner string `json:"owner,omitempty"`
}

func (r *nodeRecord) encode() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

func decodeNodeRecord(data []byte) *nodeRecord {
	if len(data) == 0 {
		return nil
	}
	var r nodeRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	return &r
}

// sessionRecord is the BoltDB value for one live session.
type sessionRecord struct {
	DeadlineMillis int64 `json:"deadline_ms"`
}

// TxnResult is the FSM's reply to a txn command. Err is nil on success and a
// *coordinator.TxnError naming the first failed op otherwise; in both cases
// nothing partial was applied.
type TxnResult struct {
	Results []coordinator.OpResult
	Err     error
}

// errRollback aborts a bolt update transaction after an op failure so no
// partial effects commit. The failure itself travels in the TxnResult.
var errRollback = errors.New("transaction rolled back")

// FSM implements raft.FSM over a BoltDB node tree. All coordinator semantics
// (parent checks, version checks, ephemeral ownership) are evaluated here so
// every replica converges on the same tree.
type FSM struct {
	db     *bolt.DB
	dbPath string
	logger *slog.Logger
}

var _ raft.FSM = (*FSM)(nil)

// NewFSM opens (or creates) the node tree database.
func NewFSM(dbPath string, logger *slog.Logger) (*FSM, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		nodes, err := tx.CreateBucketIfNotExists(bucketNodes)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		// the root node always exists
		if nodes.Get([]byte("/")) == nil {
			root := nodeRecord{}
			return nodes.Put([]byte("/"), root.encode())
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &FSM{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "coordfsm"),
	}, nil
}

// Apply implements raft.FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	if len(log.Data) == 0 {
		return nil
	}
	cmd, err := decodeCommand(log.Data)
	if err != nil {
		f.logger.Error("undecodable raft command", "error", err)
		return err
	}

	switch cmd.Kind {
	case cmdTxn:
		return f.applyTxn(&cmd, log.Index, log.Term)
	case cmdSessionCreate:
		return f.applySessionCreate(&cmd, log.Index, log.Term)
	case cmdSessionHeartbeat:
		return f.applySessionHeartbeat(&cmd, log.Index, log.Term)
	case cmdSessionClose:
		return f.applySessionClose(&cmd, log.Index, log.Term)
	default:
		f.logger.Warn("unknown command kind", "kind", cmd.Kind)
		return nil
	}
}

func (f *FSM) applyTxn(cmd *command, logIndex, logTerm uint64) interface{} {
	res := &TxnResult{}
	err := f.db.Update(func(tx *bolt.Tx) error {
		for i, op := range cmd.Ops {
			r, opErr := applyOp(tx, cmd.Session, op)
			if opErr != nil {
				res.Results = nil
				res.Err = &coordinator.TxnError{Index: i, Err: opErr}
				return errRollback
			}
			res.Results = append(res.Results, r)
		}
		return putAppliedIndex(tx, logIndex, logTerm)
	})
	if err != nil && !errors.Is(err, errRollback) {
		f.logger.Error("failed to apply transaction", "error", err)
		return err
	}
	return res
}

func applyOp(tx *bolt.Tx, session string, op txnOp) (coordinator.OpResult, error) {
	nodes := tx.Bucket(bucketNodes)
	key := []byte(op.Path)

	switch op.Type {
	case "create":
		if err := coordinator.ValidatePath(op.Path); err != nil {
			return coordinator.OpResult{}, err
		}
		if existing := decodeNodeRecord(nodes.Get(key)); existing != nil {
			if op.IgnoreIfExists && !op.Ephemeral {
				return coordinator.OpResult{Version: existing.Version}, nil
			}
			return coordinator.OpResult{}, coordinator.ErrNodeExists
		}
		parent := decodeNodeRecord(nodes.Get([]byte(coordinator.Parent(op.Path))))
		if parent == nil {
			return coordinator.OpResult{}, coordinator.ErrNoNode
		}
		if parent.Owner != "" {
			return coordinator.OpResult{}, coordinator.ErrNoChildrenForEphemerals
		}
		record := nodeRecord{Data: op.Data}
		if op.Ephemeral {
			if session == "" || tx.Bucket(bucketSessions).Get([]byte(session)) == nil {
				return coordinator.OpResult{}, coordinator.ErrSessionExpired
			}
			record.Owner = session
		}
		if err := nodes.Put(key, record.encode()); err != nil {
			return coordinator.OpResult{}, err
		}
		return coordinator.OpResult{Version: 0}, nil

	case "remove":
		record := decodeNodeRecord(nodes.Get(key))
		if record == nil {
			return coordinator.OpResult{}, coordinator.ErrNoNode
		}
		if hasChildren(nodes, op.Path) {
			return coordinator.OpResult{}, coordinator.ErrNotEmpty
		}
		if op.Version != coordinator.AnyVersion && op.Version != record.Version {
			return coordinator.OpResult{}, coordinator.ErrBadVersion
		}
		if err := nodes.Delete(key); err != nil {
			return coordinator.OpResult{}, err
		}
		return coordinator.OpResult{}, nil

	case "set":
		record := decodeNodeRecord(nodes.Get(key))
		if record == nil {
			return coordinator.OpResult{}, coordinator.ErrNoNode
		}
		if op.Version != coordinator.AnyVersion && op.Version != record.Version {
			return coordinator.OpResult{}, coordinator.ErrBadVersion
		}
		record.Data = op.Data
		record.Version++
		if err := nodes.Put(key, record.encode()); err != nil {
			return coordinator.OpResult{}, err
		}
		return coordinator.OpResult{Version: record.Version}, nil

	case "check":
		record := decodeNodeRecord(nodes.Get(key))
		if record == nil {
			return coordinator.OpResult{}, coordinator.ErrNoNode
		}
		if op.Version != coordinator.AnyVersion && op.Version != record.Version {
			return coordinator.OpResult{}, coordinator.ErrBadVersion
		}
		return coordinator.OpResult{}, nil

	default:
		return coordinator.OpResult{}, fmt.Errorf("unknown op type %q", op.Type)
	}
}

// hasChildren reports whether any key sits under path in the tree.
func hasChildren(nodes *bolt.Bucket, path string) bool {
	prefix := []byte(path + "/")
	if path == "/" {
		prefix = []byte("/")
	}
	c := nodes.Cursor()
	k, _ := c.Seek(prefix)
	for ; k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if !bytes.Equal(k, []byte(path)) {
			return true
		}
	}
	return false
}

func (f *FSM) applySessionCreate(cmd *command, logIndex, logTerm uint64) interface{} {
	err := f.db.Update(func(tx *bolt.Tx) error {
		record := sessionRecord{DeadlineMillis: cmd.DeadlineMillis}
		data, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketSessions).Put([]byte(cmd.Session), data); err != nil {
			return err
		}
		return putAppliedIndex(tx, logIndex, logTerm)
	})
	if err != nil {
		f.logger.Error("failed to create session", "session", cmd.Session, "error", err)
		return err
	}
	f.logger.Debug("session created", "session", cmd.Session)
	return nil
}

func (f *FSM) applySessionHeartbeat(cmd *command, logIndex, logTerm uint64) interface{} {
	var expired bool
	err := f.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		if sessions.Get([]byte(cmd.Session)) == nil {
			expired = true
			return putAppliedIndex(tx, logIndex, logTerm)
		}
		record := sessionRecord{DeadlineMillis: cmd.DeadlineMillis}
		data, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		if err := sessions.Put([]byte(cmd.Session), data); err != nil {
			return err
		}
		return putAppliedIndex(tx, logIndex, logTerm)
	})
	if err != nil {
		return err
	}
	if expired {
		return coordinator.ErrSessionExpired
	}
	return nil
}

// applySessionClose removes the session and every ephemeral it owns. Used
// for clean closes and for expiry alike; running inside Apply makes the
// cleanup identical on every replica.
func (f *FSM) applySessionClose(cmd *command, logIndex, logTerm uint64) interface{} {
	var removed int
	err := f.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		if err := sessions.Delete([]byte(cmd.Session)); err != nil {
			return err
		}

		nodes := tx.Bucket(bucketNodes)
		var owned [][]byte
		c := nodes.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			record := decodeNodeRecord(v)
			if record != nil && record.Owner == cmd.Session {
				owned = append(owned, append([]byte(nil), k...))
			}
		}
		for _, k := range owned {
			if err := nodes.Delete(k); err != nil {
				return err
			}
		}
		removed = len(owned)
		return putAppliedIndex(tx, logIndex, logTerm)
	})
	if err != nil {
		f.logger.Error("failed to close session", "session", cmd.Session, "error", err)
		return err
	}
	f.logger.Info("session closed", "session", cmd.Session, "ephemerals_removed", removed)
	return nil
}

func putAppliedIndex(tx *bolt.Tx, index, term uint64) error {
	meta := tx.Bucket(bucketMeta)
	if err := meta.Put(keyAppliedIndex, encodeUint64(index)); err != nil {
		return err
	}
	return meta.Put(keyAppliedTerm, encodeUint64(term))
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

// GetNode reads a node's payload and version from local state.
func (f *FSM) GetNode(path string) ([]byte, int32, error) {
	var data []byte
	var version int32
	err := f.db.View(func(tx *bolt.Tx) error {
		record := decodeNodeRecord(tx.Bucket(bucketNodes).Get([]byte(path)))
		if record == nil {
			return coordinator.ErrNoNode
		}
		data = append([]byte(nil), record.Data...)
		version = record.Version
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return data, version, nil
}

// SessionDeadlines returns the deadline of every live session, for the
// expiry monitor.
func (f *FSM) SessionDeadlines() (map[string]int64, error) {
	deadlines := map[string]int64{}
	err := f.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var record sessionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			deadlines[string(k)] = record.DeadlineMillis
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return deadlines, nil
}

// Snapshot implements raft.FSM by handing the sink a consistent view of the
// whole database.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	tx, err := f.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	return &fsmSnapshot{tx: tx}, nil
}

// Restore implements raft.FSM by replacing the database file.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	if err := f.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	tmpPath := f.dbPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	out.Close()

	if err := os.Rename(tmpPath, f.dbPath); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	db, err := bolt.Open(f.dbPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("reopen db: %w", err)
	}
	f.db = db
	f.logger.Info("restored node tree from snapshot")
	return nil
}

// Close closes the underlying database.
func (f *FSM) Close() error {
	return f.db.Close()
}

type fsmSnapshot struct {
	tx *bolt.Tx
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	defer s.tx.Rollback()
	if _, err := s.tx.WriteTo(sink); err != nil {
		sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {
	s.tx.Rollback()
}
