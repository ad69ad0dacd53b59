package filequeue

import "github.com/twmb/murmur3"

// BucketForPath maps a path to its bucket with a seeded 64-bit murmur3 hash.
// The hash is platform-independent and must never change between releases:
// files would migrate buckets and break per-bucket ordering.
func BucketForPath(path string, seed uint64, buckets int) int {
	if buckets <= 1 {
		return 0
	}
	return int(murmur3.SeedStringSum64(seed, path) % uint64(buckets))
}
