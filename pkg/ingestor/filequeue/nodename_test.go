package filequeue

import (
	"strings"
	"testing"
)

func TestEncodeNodeName(t *testing.T) {
	t.Parallel()

	t.Run("plain_names_pass_through", func(t *testing.T) {
		if got := EncodeNodeName("part-000.parquet"); got != "part-000.parquet" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("escapes_reserved_bytes", func(t *testing.T) {
		got := EncodeNodeName("data/2024/p=1.parquet")
		if strings.ContainsAny(got, "/=") {
			t.Fatalf("reserved bytes survived: %q", got)
		}
		if got != "data%2F2024%2Fp%3D1.parquet" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("legal_charset", func(t *testing.T) {
		for _, p := range []string{"a b", "ä/ö", "x\x00y", "emoji-😀.csv", "%"} {
			enc := EncodeNodeName(p)
			for i := 0; i < len(enc); i++ {
				c := enc[i]
				ok := c == '.' || c == '_' || c == '-' || c == '%' ||
					(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
				if !ok {
					t.Fatalf("EncodeNodeName(%q) produced illegal byte %q in %q", p, c, enc)
				}
			}
		}
	})

	t.Run("injective_on_tricky_pairs", func(t *testing.T) {
		pairs := [][2]string{
			{"a/b", "a%2Fb"},
			{"a b", "a%20b"},
			{"a%", "a%25"},
		}
		for _, pair := range pairs {
			if EncodeNodeName(pair[0]) == EncodeNodeName(pair[1]) {
				t.Fatalf("paths %q and %q collide", pair[0], pair[1])
			}
		}
	})

	t.Run("truncates_long_names", func(t *testing.T) {
		long := strings.Repeat("d", 1000) + "/part.parquet"
		enc := EncodeNodeName(long)
		if len(enc) > maxNodeNameLen {
			t.Fatalf("encoded name is %d bytes", len(enc))
		}
		other := strings.Repeat("d", 1000) + "/part2.parquet"
		if EncodeNodeName(other) == enc {
			t.Fatalf("long paths with a shared prefix collide")
		}
	})

	t.Run("truncation_is_stable", func(t *testing.T) {
		long := strings.Repeat("x y/", 200)
		if EncodeNodeName(long) != EncodeNodeName(long) {
			t.Fatalf("encoding not deterministic")
		}
	})
}
