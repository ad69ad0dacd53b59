// Package filequeue coordinates exactly-once, path-ordered ingestion of
// object-store files across a fleet of worker replicas.
//
// All shared state lives under one coordinator directory. Each file moves
// through None -> Processing -> Processed/Failed; "processed" is recorded not
// per file but as a per-bucket cursor holding the greatest processed path,
// so the coordinator footprint stays constant no matter how many files have
// been ingested. Buckets shard the path space by a fixed hash; an ephemeral
// lock per bucket keeps one worker at a time claiming from it.
package filequeue
