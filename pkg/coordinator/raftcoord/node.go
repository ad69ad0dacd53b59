package raftcoord

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
)

// Config holds node configuration options.
type Config struct {
	// NodeID is this node's raft server id (e.g. "coord-1").
	NodeID string
	// BindAddr is the raft transport address ("host:port").
	BindAddr string
	// DataDir holds the node tree, raft log, and snapshots.
	DataDir string
	// Bootstrap starts a fresh single-node cluster; peers join later.
	Bootstrap bool
	// SessionTTL is how long a session survives without a heartbeat.
	SessionTTL time.Duration
	// Transport overrides the TCP transport built from BindAddr. Tests pass
	// an in-memory transport here.
	Transport raft.Transport

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Node is one replica of the replicated coordinator.
type Node struct {
	cfg       Config
	fsm       *FSM
	store     *BoltStore
	raft      *raft.Raft
	transport raft.Transport
	monitor   *SessionMonitor
	logger    *slog.Logger
}

// NewNode wires the FSM, stores, transport, and raft instance, and starts
// the session-expiry monitor.
func NewNode(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("component", "raftcoord", "node_id", cfg.NodeID)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fsm, err := NewFSM(filepath.Join(cfg.DataDir, "tree.db"), cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("open node tree: %w", err)
	}

	store, err := NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		fsm.Close()
		return nil, fmt.Errorf("open raft store: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, io.Discard)
	if err != nil {
		fsm.Close()
		store.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
		if err != nil {
			fsm.Close()
			store.Close()
			return nil, fmt.Errorf("resolve bind addr: %w", err)
		}
		transport, err = raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, io.Discard)
		if err != nil {
			fsm.Close()
			store.Close()
			return nil, fmt.Errorf("open transport: %w", err)
		}
	}

	rcfg := raft.DefaultConfig()
	rcfg.LocalID = raft.ServerID(cfg.NodeID)
	rcfg.Logger = newHCLogBridge(logger.With("subsystem", "raft"))

	r, err := raft.NewRaft(rcfg, fsm, store, store, snapshots, transport)
	if err != nil {
		fsm.Close()
		store.Close()
		closeTransport(transport)
		return nil, fmt.Errorf("start raft: %w", err)
	}

	if cfg.Bootstrap {
		r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{
				ID:      raft.ServerID(cfg.NodeID),
				Address: transport.LocalAddr(),
			}},
		})
	}

	n := &Node{
		cfg:       cfg,
		fsm:       fsm,
		store:     store,
		raft:      r,
		transport: transport,
		logger:    logger,
	}
	n.monitor = NewSessionMonitor(n, SessionMonitorConfig{Logger: cfg.Logger})
	n.monitor.Start()
	return n, nil
}

// Raft exposes the underlying raft instance.
func (n *Node) Raft() *raft.Raft { return n.raft }

// FSM exposes the local node-tree state.
func (n *Node) FSM() *FSM { return n.fsm }

// IsLeader reports whether this node currently leads the cluster.
func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

// Join adds a peer as a voter. Must be called on the leader.
func (n *Node) Join(id, addr string) error {
	future := n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter %s: %w", id, err)
	}
	n.logger.Info("peer joined", "peer_id", id, "peer_addr", addr)
	return nil
}

// Close shuts down the monitor, raft, and stores.
func (n *Node) Close() error {
	n.monitor.Stop()
	if err := n.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("shut down raft: %w", err)
	}
	closeTransport(n.transport)
	if err := n.store.Close(); err != nil {
		return err
	}
	return n.fsm.Close()
}

func closeTransport(t raft.Transport) {
	if c, ok := t.(io.Closer); ok {
		c.Close()
	}
}

// propose replicates a command and returns the FSM's response.
func (n *Node) propose(cmd command) (interface{}, error) {
	data, err := encodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	future := n.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		return nil, err
	}
	resp := future.Response()
	if err, ok := resp.(error); ok {
		return nil, err
	}
	return resp, nil
}
