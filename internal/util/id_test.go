package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndUniqueness(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		id := NewID("cmt")
		if !strings.HasPrefix(id, "cmt_") {
			t.Fatalf("NewID() = %q, want cmt_ prefix", id)
		}
		if len(id) != len("cmt_")+32 {
			t.Fatalf("NewID() = %q, unexpected length %d", id, len(id))
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
	if got := NewID(""); strings.Contains(got, "_") {
		t.Fatalf("NewID(\"\") = %q, want bare hex", got)
	}
}
