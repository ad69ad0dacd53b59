package raftcoord

import (
	"log/slog"
	"sync"
	"time"
)

// SessionMonitorConfig configures the session-expiry monitor.
type SessionMonitorConfig struct {
	CheckInterval time.Duration
	Logger        *slog.Logger
}

// SessionMonitor expires sessions whose deadline lapsed. It runs on every
// node but acts only while leading; expiry is a replicated session-close
// command, so ephemeral cleanup happens identically on every replica and a
// dead worker's bucket locks and processing claims free themselves without
// operator intervention.
type SessionMonitor struct {
	cfg    SessionMonitorConfig
	node   *Node
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionMonitor creates a monitor for the node.
func NewSessionMonitor(node *Node, cfg SessionMonitorConfig) *SessionMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionMonitor{
		cfg:    cfg,
		node:   node,
		logger: cfg.Logger.With("component", "session-monitor"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the background loop.
func (m *SessionMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop terminates the loop and waits for it.
func (m *SessionMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *SessionMonitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.expireSessions()
		case <-m.stopCh:
			return
		}
	}
}

func (m *SessionMonitor) expireSessions() {
	if !m.node.IsLeader() {
		return
	}
	deadlines, err := m.node.fsm.SessionDeadlines()
	if err != nil {
		m.logger.Error("failed to list sessions", "error", err)
		return
	}
	now := time.Now().UnixMilli()
	for id, deadline := range deadlines {
		if deadline >= now {
			continue
		}
		m.logger.Info("expiring session",
			"session", id,
			"overdue", time.Duration(now-deadline)*time.Millisecond)
		if _, err := m.node.propose(command{Kind: cmdSessionClose, Session: id}); err != nil {
			m.logger.Error("failed to expire session", "session", id, "error", err)
		}
	}
}
