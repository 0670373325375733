package id

import (
	"sort"
	"testing"
)

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("len(%q) = %d, want 26", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewIsSortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = New()
	}

	if !sort.StringsAreSorted(ids) {
		t.Error("ids generated in sequence must be lexicographically increasing")
	}
}
