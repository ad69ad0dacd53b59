// Package raftcoord replicates the coordinator contract across nodes with
// raft. Transactions, session lifecycle, and ephemeral cleanup are raft
// commands applied to a BoltDB-backed node tree, so every replica converges
// on the same tree; snapshots copy the database wholesale.
package raftcoord
