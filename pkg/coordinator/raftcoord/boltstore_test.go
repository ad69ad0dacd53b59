package raftcoord

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hashicorp/raft"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "raft.db"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStoreLogs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	first, _ := s.FirstIndex()
	last, _ := s.LastIndex()
	if first != 0 || last != 0 {
		t.Fatalf("empty store indexes = %d/%d", first, last)
	}

	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("one")},
		{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("two")},
		{Index: 3, Term: 2, Type: raft.LogCommand, Data: []byte("three")},
	}
	if err := s.StoreLogs(logs); err != nil {
		t.Fatalf("StoreLogs: %v", err)
	}

	first, _ = s.FirstIndex()
	last, _ = s.LastIndex()
	if first != 1 || last != 3 {
		t.Fatalf("indexes = %d/%d, want 1/3", first, last)
	}

	var out raft.Log
	if err := s.GetLog(2, &out); err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if string(out.Data) != "two" || out.Term != 1 {
		t.Fatalf("GetLog(2) = %+v", out)
	}

	if err := s.GetLog(9, &out); !errors.Is(err, raft.ErrLogNotFound) {
		t.Fatalf("GetLog(9) = %v, want ErrLogNotFound", err)
	}

	if err := s.DeleteRange(1, 2); err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}
	first, _ = s.FirstIndex()
	last, _ = s.LastIndex()
	if first != 3 || last != 3 {
		t.Fatalf("after delete indexes = %d/%d, want 3/3", first, last)
	}
}

func TestBoltStoreStable(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if _, err := s.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrKeyNotFound", err)
	}

	if err := s.Set([]byte("term"), []byte("x")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := s.Get([]byte("term"))
	if err != nil || string(val) != "x" {
		t.Fatalf("Get = (%q, %v)", val, err)
	}

	if got, _ := s.GetUint64([]byte("unset")); got != 0 {
		t.Fatalf("GetUint64(unset) = %d", got)
	}
	if err := s.SetUint64([]byte("current_term"), 7); err != nil {
		t.Fatalf("SetUint64: %v", err)
	}
	if got, _ := s.GetUint64([]byte("current_term")); got != 7 {
		t.Fatalf("GetUint64 = %d, want 7", got)
	}
}
