package filequeue

import "testing"

func TestBucketForPath(t *testing.T) {
	t.Parallel()

	paths := []string{
		"data/2024/part-000.parquet",
		"data/2024/part-001.parquet",
		"data/2025/part-000.parquet",
		"logs/app.ndjson",
		"тест/файл.csv",
	}

	t.Run("deterministic", func(t *testing.T) {
		for _, p := range paths {
			a := BucketForPath(p, 42, 16)
			b := BucketForPath(p, 42, 16)
			if a != b {
				t.Fatalf("BucketForPath(%q) unstable: %d vs %d", p, a, b)
			}
		}
	})

	t.Run("in_range", func(t *testing.T) {
		for _, p := range paths {
			for _, buckets := range []int{1, 2, 7, 64} {
				got := BucketForPath(p, 0, buckets)
				if got < 0 || got >= buckets {
					t.Fatalf("BucketForPath(%q, 0, %d) = %d out of range", p, buckets, got)
				}
			}
		}
	})

	t.Run("unsharded_is_zero", func(t *testing.T) {
		for _, p := range paths {
			if got := BucketForPath(p, 7, 1); got != 0 {
				t.Fatalf("BucketForPath(%q, 7, 1) = %d, want 0", p, got)
			}
		}
	})

	t.Run("spreads", func(t *testing.T) {
		// not a distribution test, just a guard against a constant function
		seen := map[int]bool{}
		for i := 0; i < 256; i++ {
			seen[BucketForPath(string(rune('a'+i%26))+string(rune('0'+i%10)), 0, 8)] = true
		}
		if len(seen) < 2 {
			t.Fatalf("hash maps everything to one bucket")
		}
	})

	t.Run("seed_changes_placement", func(t *testing.T) {
		moved := false
		for _, p := range paths {
			if BucketForPath(p, 1, 1024) != BucketForPath(p, 2, 1024) {
				moved = true
				break
			}
		}
		if !moved {
			t.Fatalf("seed has no effect on bucket placement")
		}
	})
}
