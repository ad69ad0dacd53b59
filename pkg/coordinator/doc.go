// Package coordinator defines the capability contract for the strongly
// consistent coordination service that queue state lives on: hierarchical
// nodes with byte payloads, per-node versions, persistent and ephemeral
// modes, sessions, and atomic multi-request transactions.
//
// Two implementations ship with this repository: memcoord (in-process, used
// embedded and in tests) and raftcoord (replicated across nodes).
package coordinator
