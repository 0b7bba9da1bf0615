package ledger_test

import (
	"testing"

	"SimBank/internal/ledger"
)

func TestKnownNumbers_EvictsLeastRecentlyUsed(t *testing.T) {
	k := ledger.NewKnownNumbers(2)
	k.Add("a")
	k.Add("b")
	k.Contains("a") // promote a
	k.Add("c")      // evicts b

	if !k.Contains("a") || !k.Contains("c") {
		t.Fatal("a and c should be present")
	}
	if k.Contains("b") {
		t.Error("b should have been evicted")
	}
	if k.Evictions() != 1 {
		t.Errorf("evictions = %d, want 1", k.Evictions())
	}
}

func TestKnownNumbers_WarmKeepsNewest(t *testing.T) {
	k := ledger.NewKnownNumbers(2)
	k.Warm([]string{"n3", "n2", "n1"})

	if k.Size() != 2 {
		t.Fatalf("size = %d, want 2", k.Size())
	}
	if !k.Contains("n3") || !k.Contains("n2") {
		t.Error("newest numbers should survive warming")
	}

	k.Forget()
	if k.Size() != 0 || k.Contains("n3") {
		t.Error("forget should empty the cache")
	}
}
