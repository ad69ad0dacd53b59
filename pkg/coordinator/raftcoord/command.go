package raftcoord

import (
	"encoding/json"
	"fmt"

	"github.com/quarrydb/quarry/pkg/coordinator"
)

// Command kinds. Session deadlines ride inside the commands (proposer
// clock), never the local clock, so Apply stays deterministic across
// replicas.
const (
	cmdTxn              = "txn"
	cmdSessionCreate    = "session_create"
	cmdSessionHeartbeat = "session_heartbeat"
	cmdSessionClose     = "session_close"
)

type txnOp struct {
	Type           string `json:"type"` // create | remove | set | check
	Path           string `json:"path"`
	Data           []byte `json:"data,omitempty"`
	Ephemeral      bool   `json:"ephemeral,omitempty"`
	Version        int32  `json:"version"`
	IgnoreIfExists bool   `json:"ignore_if_exists,omitempty"`
}

type command struct {
	Kind    string `json:"kind"`
	Session string `json:"session,omitempty"`
	// DeadlineMillis is the session's new expiry for create/heartbeat.
	DeadlineMillis int64   `json:"deadline_ms,omitempty"`
	Ops            []txnOp `json:"ops,omitempty"`
}

func encodeCommand(c command) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", c.Kind, err)
	}
	return data, nil
}

func decodeCommand(data []byte) (command, error) {
	var c command
	if err := json.Unmarshal(data, &c); err != nil {
		return command{}, fmt.Errorf("decode raft command: %w", err)
	}
	return c, nil
}

func toTxnOps(ops []coordinator.Op) ([]txnOp, error) {
	out := make([]txnOp, 0, len(ops))
	for _, op := range ops {
		t := txnOp{
			Path:           op.Path,
			Data:           op.Data,
			Ephemeral:      op.Mode == coordinator.Ephemeral,
			Version:        op.Version,
			IgnoreIfExists: op.IgnoreIfExists,
		}
		switch op.Type {
		case coordinator.OpCreate:
			t.Type = "create"
		case coordinator.OpRemove:
			t.Type = "remove"
		case coordinator.OpSet:
			t.Type = "set"
		case coordinator.OpCheck:
			t.Type = "check"
		default:
			return nil, fmt.Errorf("unknown op type %d", op.Type)
		}
		out = append(out, t)
	}
	return out, nil
}
