package filequeue

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// maxNodeNameLen is the coordinator's limit on a single path segment.
const maxNodeNameLen = 255

// EncodeNodeName maps an arbitrary object path to a coordinator-legal leaf
// name. Bytes outside [A-Za-z0-9._-] are percent-encoded, which keeps the
// mapping injective; names that would exceed the segment limit are truncated
// and suffixed with a 64-bit hash of the full path so distinct paths keep
// distinct names with overwhelming probability.
func EncodeNodeName(path string) string {
	enc := escapeNodeName(path)
	if len(enc) <= maxNodeNameLen {
		return enc
	}
	suffix := fmt.Sprintf("-%016x", xxhash.Sum64String(path))
	head := enc[:maxNodeNameLen-len(suffix)]
	// never cut a percent escape in half
	if i := strings.LastIndexByte(head, '%'); i >= 0 && i > len(head)-3 {
		head = head[:i]
	}
	return head + suffix
}

func escapeNodeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '.' || c == '_' || c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
