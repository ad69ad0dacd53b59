package memcoord

import (
	"context"
	"sync"

	"github.com/quarrydb/quarry/pkg/coordinator"
)

// Session is a session-bound client over the coordinator node tree.
type Session struct {
	coord *Coordinator
	id    int64

	mu     sync.Mutex
	closed bool
}

var _ coordinator.Client = (*Session)(nil)

// ID returns the session identifier.
func (s *Session) ID() int64 { return s.id }

func (s *Session) enter(ctx context.Context, op, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return coordinator.ErrSessionExpired
	}
	if fn := s.coord.interceptor(); fn != nil {
		if err := fn(s.id, op, path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Create(ctx context.Context, path string, data []byte, mode coordinator.Mode, ignoreIfExists bool) error {
	if err := s.enter(ctx, "create", path); err != nil {
		return err
	}
	op := coordinator.Op{Type: coordinator.OpCreate, Path: path, Data: data, Mode: mode, IgnoreIfExists: ignoreIfExists}
	_, err := s.coord.multi(s.id, []coordinator.Op{op})
	return unwrapSingle(err)
}

func (s *Session) Remove(ctx context.Context, path string, version int32) error {
	if err := s.enter(ctx, "remove", path); err != nil {
		return err
	}
	_, err := s.coord.multi(s.id, []coordinator.Op{coordinator.RemoveOp(path, version)})
	return unwrapSingle(err)
}

func (s *Session) Set(ctx context.Context, path string, data []byte, version int32) (int32, error) {
	if err := s.enter(ctx, "set", path); err != nil {
		return 0, err
	}
	results, err := s.coord.multi(s.id, []coordinator.Op{coordinator.SetOp(path, data, version)})
	if err != nil {
		return 0, unwrapSingle(err)
	}
	return results[0].Version, nil
}

func (s *Session) Check(ctx context.Context, path string, version int32) error {
	if err := s.enter(ctx, "check", path); err != nil {
		return err
	}
	_, err := s.coord.multi(s.id, []coordinator.Op{coordinator.CheckOp(path, version)})
	return unwrapSingle(err)
}

func (s *Session) Get(ctx context.Context, path string) ([]byte, int32, error) {
	if err := s.enter(ctx, "get", path); err != nil {
		return nil, 0, err
	}
	return s.coord.get(path)
}

func (s *Session) Multi(ctx context.Context, ops []coordinator.Op) ([]coordinator.OpResult, error) {
	first := ""
	if len(ops) > 0 {
		first = ops[0].Path
	}
	if err := s.enter(ctx, "multi", first); err != nil {
		return nil, err
	}
	return s.coord.multi(s.id, ops)
}

// Close ends the session and removes its ephemerals, the same way the
// coordinator reacts to the death of a real session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.coord.closeSession(s.id)
	return nil
}

// unwrapSingle strips the TxnError wrapper from single-op transactions so
// direct Create/Remove/Set/Check calls return bare sentinel errors.
func unwrapSingle(err error) error {
	if txn, ok := err.(*coordinator.TxnError); ok {
		return txn.Err
	}
	return err
}
