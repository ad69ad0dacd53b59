package memcoord

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/quarrydb/quarry/pkg/coordinator"
)

// Interceptor observes a session call before it reaches the node tree.
// Returning a non-nil error aborts the call with that error. The node tree
// lock is not held while the interceptor runs, so it may issue calls through
// other sessions to build adversarial interleavings.
type Interceptor func(sessionID int64, op string, path string) error

type node struct {
	data    []byte
	version int32
	// owner is the session that created an ephemeral node; 0 for persistent.
	owner int64
}

// Coordinator owns the node tree. Hand out session-bound clients with
// NewSession.
type Coordinator struct {
	mu       sync.Mutex
	nodes    map[string]*node
	children map[string]int
	sessions map[int64]*Session
	nextID   int64

	intercept Interceptor
}

// New creates an empty coordinator holding only the root node.
func New() *Coordinator {
	return &Coordinator{
		nodes:    map[string]*node{"/": {}},
		children: map[string]int{},
		sessions: map[int64]*Session{},
	}
}

// SetInterceptor installs a failure-injection hook consulted on every call.
func (c *Coordinator) SetInterceptor(fn Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intercept = fn
}

func (c *Coordinator) interceptor() Interceptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intercept
}

// NewSession opens a session. Ephemerals created through it are removed when
// the session closes.
func (c *Coordinator) NewSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	s := &Session{coord: c, id: c.nextID}
	c.sessions[s.id] = s
	return s
}

// Dump returns a copy of every node payload keyed by path. Test helper.
func (c *Coordinator) Dump() map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]byte, len(c.nodes))
	for p, n := range c.nodes {
		out[p] = append([]byte(nil), n.data...)
	}
	return out
}

// txnView stages the effects of a transaction without touching the tree.
// A nil overlay entry marks a deletion.
type txnView struct {
	c          *Coordinator
	overlay    map[string]*node
	childDelta map[string]int
}

func (c *Coordinator) view() *txnView {
	return &txnView{c: c, overlay: map[string]*node{}, childDelta: map[string]int{}}
}

func (v *txnView) lookup(path string) (*node, bool) {
	if n, ok := v.overlay[path]; ok {
		return n, n != nil
	}
	n, ok := v.c.nodes[path]
	return n, ok
}

func (v *txnView) childCount(path string) int {
	return v.c.children[path] + v.childDelta[path]
}

func (v *txnView) create(owner int64, op coordinator.Op) (coordinator.OpResult, error) {
	if err := coordinator.ValidatePath(op.Path); err != nil {
		return coordinator.OpResult{}, err
	}
	if existing, ok := v.lookup(op.Path); ok {
		if op.IgnoreIfExists && op.Mode == coordinator.Persistent {
			return coordinator.OpResult{Version: existing.version}, nil
		}
		return coordinator.OpResult{}, coordinator.ErrNodeExists
	}
	parent, ok := v.lookup(coordinator.Parent(op.Path))
	if !ok {
		return coordinator.OpResult{}, coordinator.ErrNoNode
	}
	if parent.owner != 0 {
		return coordinator.OpResult{}, coordinator.ErrNoChildrenForEphemerals
	}
	n := &node{data: append([]byte(nil), op.Data...)}
	if op.Mode == coordinator.Ephemeral {
		n.owner = owner
	}
	v.overlay[op.Path] = n
	v.childDelta[coordinator.Parent(op.Path)]++
	return coordinator.OpResult{Version: 0}, nil
}

func (v *txnView) remove(op coordinator.Op) (coordinator.OpResult, error) {
	n, ok := v.lookup(op.Path)
	if !ok {
		return coordinator.OpResult{}, coordinator.ErrNoNode
	}
	if v.childCount(op.Path) > 0 {
		return coordinator.OpResult{}, coordinator.ErrNotEmpty
	}
	if op.Version != coordinator.AnyVersion && op.Version != n.version {
		return coordinator.OpResult{}, coordinator.ErrBadVersion
	}
	v.overlay[op.Path] = nil
	v.childDelta[coordinator.Parent(op.Path)]--
	return coordinator.OpResult{}, nil
}

func (v *txnView) set(op coordinator.Op) (coordinator.OpResult, error) {
	n, ok := v.lookup(op.Path)
	if !ok {
		return coordinator.OpResult{}, coordinator.ErrNoNode
	}
	if op.Version != coordinator.AnyVersion && op.Version != n.version {
		return coordinator.OpResult{}, coordinator.ErrBadVersion
	}
	v.overlay[op.Path] = &node{
		data:    append([]byte(nil), op.Data...),
		version: n.version + 1,
		owner:   n.owner,
	}
	return coordinator.OpResult{Version: n.version + 1}, nil
}

func (v *txnView) check(op coordinator.Op) (coordinator.OpResult, error) {
	n, ok := v.lookup(op.Path)
	if !ok {
		return coordinator.OpResult{}, coordinator.ErrNoNode
	}
	if op.Version != coordinator.AnyVersion && op.Version != n.version {
		return coordinator.OpResult{}, coordinator.ErrBadVersion
	}
	return coordinator.OpResult{}, nil
}

func (v *txnView) apply(owner int64, op coordinator.Op) (coordinator.OpResult, error) {
	switch op.Type {
	case coordinator.OpCreate:
		return v.create(owner, op)
	case coordinator.OpRemove:
		return v.remove(op)
	case coordinator.OpSet:
		return v.set(op)
	case coordinator.OpCheck:
		return v.check(op)
	default:
		return coordinator.OpResult{}, errors.New("unknown op type")
	}
}

// commit merges a fully validated view into the tree.
func (v *txnView) commit() {
	for path, n := range v.overlay {
		if n == nil {
			delete(v.c.nodes, path)
		} else {
			v.c.nodes[path] = n
		}
	}
	for path, d := range v.childDelta {
		if d == 0 {
			continue
		}
		v.c.children[path] += d
		if v.c.children[path] <= 0 {
			delete(v.c.children, path)
		}
	}
}

// multi runs ops atomically under the tree lock.
func (c *Coordinator) multi(owner int64, ops []coordinator.Op) ([]coordinator.OpResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.view()
	results := make([]coordinator.OpResult, 0, len(ops))
	for i, op := range ops {
		r, err := v.apply(owner, op)
		if err != nil {
			return nil, &coordinator.TxnError{Index: i, Err: err}
		}
		results = append(results, r)
	}
	v.commit()
	return results, nil
}

func (c *Coordinator) get(path string) ([]byte, int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return nil, 0, coordinator.ErrNoNode
	}
	return append([]byte(nil), n.data...), n.version, nil
}

// closeSession removes the session and every ephemeral it owns,
// deepest-first.
func (c *Coordinator) closeSession(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)

	var owned []string
	for path, n := range c.nodes {
		if n.owner == id {
			owned = append(owned, path)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return strings.Count(owned[i], "/") > strings.Count(owned[j], "/")
	})
	for _, path := range owned {
		delete(c.nodes, path)
		parent := coordinator.Parent(path)
		c.children[parent]--
		if c.children[parent] <= 0 {
			delete(c.children, parent)
		}
	}
}
