package raftcoord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"

	"github.com/quarrydb/quarry/pkg/coordinator"
)

// Session is a session-bound client over the replicated coordinator. Writes
// go through raft; reads come from local applied state. A background
// heartbeat keeps the replicated deadline ahead of the expiry monitor until
// Close (or process death) lets it lapse.
type Session struct {
	node *Node
	id   string

	mu     sync.Mutex
	closed bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ coordinator.Client = (*Session)(nil)

// OpenSession registers a session with the cluster and starts its heartbeat.
func (n *Node) OpenSession(ctx context.Context) (*Session, error) {
	s := &Session{
		node:   n,
		id:     uuid.NewString(),
		stopCh: make(chan struct{}),
	}
	_, err := n.propose(command{
		Kind:           cmdSessionCreate,
		Session:        s.id,
		DeadlineMillis: time.Now().Add(n.cfg.SessionTTL).UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", translateRaftErr(err))
	}
	s.wg.Add(1)
	go s.heartbeatLoop()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) heartbeatLoop() {
	defer s.wg.Done()
	interval := s.node.cfg.SessionTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_, err := s.node.propose(command{
				Kind:           cmdSessionHeartbeat,
				Session:        s.id,
				DeadlineMillis: time.Now().Add(s.node.cfg.SessionTTL).UnixMilli(),
			})
			if errors.Is(err, coordinator.ErrSessionExpired) {
				s.node.logger.Warn("session expired under heartbeat", "session", s.id)
				s.markClosed()
				return
			}
			if err != nil {
				s.node.logger.Debug("heartbeat failed", "session", s.id, "error", err)
			}
		}
	}
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return coordinator.ErrSessionExpired
	}
	return nil
}

// translateRaftErr maps raft-level proposal failures onto the contract's
// connection-loss class: the command may or may not have committed.
func translateRaftErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, raft.ErrNotLeader),
		errors.Is(err, raft.ErrLeadershipLost),
		errors.Is(err, raft.ErrLeadershipTransferInProgress),
		errors.Is(err, raft.ErrRaftShutdown),
		errors.Is(err, raft.ErrEnqueueTimeout):
		return fmt.Errorf("%w: %v", coordinator.ErrConnLoss, err)
	default:
		return err
	}
}

func (s *Session) txn(ctx context.Context, ops []coordinator.Op) ([]coordinator.OpResult, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	txnOps, err := toTxnOps(ops)
	if err != nil {
		return nil, err
	}
	resp, err := s.node.propose(command{Kind: cmdTxn, Session: s.id, Ops: txnOps})
	if err != nil {
		return nil, translateRaftErr(err)
	}
	result, ok := resp.(*TxnResult)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction response %T", resp)
	}
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Results, nil
}

func (s *Session) Create(ctx context.Context, path string, data []byte, mode coordinator.Mode, ignoreIfExists bool) error {
	op := coordinator.Op{Type: coordinator.OpCreate, Path: path, Data: data, Mode: mode, IgnoreIfExists: ignoreIfExists}
	_, err := s.txn(ctx, []coordinator.Op{op})
	return unwrapSingle(err)
}

func (s *Session) Remove(ctx context.Context, path string, version int32) error {
	_, err := s.txn(ctx, []coordinator.Op{coordinator.RemoveOp(path, version)})
	return unwrapSingle(err)
}

func (s *Session) Set(ctx context.Context, path string, data []byte, version int32) (int32, error) {
	results, err := s.txn(ctx, []coordinator.Op{coordinator.SetOp(path, data, version)})
	if err != nil {
		return 0, unwrapSingle(err)
	}
	return results[0].Version, nil
}

func (s *Session) Check(ctx context.Context, path string, version int32) error {
	_, err := s.txn(ctx, []coordinator.Op{coordinator.CheckOp(path, version)})
	return unwrapSingle(err)
}

// Get reads from local applied state. Followers may briefly lag the leader;
// the claim protocol tolerates stale cursor reads by construction (every
// write transaction re-checks the cursor version).
func (s *Session) Get(ctx context.Context, path string) ([]byte, int32, error) {
	if err := s.enter(ctx); err != nil {
		return nil, 0, err
	}
	return s.node.fsm.GetNode(path)
}

func (s *Session) Multi(ctx context.Context, ops []coordinator.Op) ([]coordinator.OpResult, error) {
	return s.txn(ctx, ops)
}

// Close ends the session, removing its ephemerals on every replica.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err := s.node.propose(command{Kind: cmdSessionClose, Session: s.id})
	s.markClosed()
	s.wg.Wait()
	if err != nil {
		return translateRaftErr(err)
	}
	return nil
}

func unwrapSingle(err error) error {
	var txn *coordinator.TxnError
	if errors.As(err, &txn) {
		return txn.Err
	}
	return err
}
