// Package memcoord is a complete in-process implementation of the
// coordinator contract: hierarchical nodes with versions, persistent and
// ephemeral modes, sessions, and atomic multi-request transactions.
//
// It backs embedded single-process deployments and is the substitute every
// consumer uses in tests; closing a session simulates worker death.
package memcoord
