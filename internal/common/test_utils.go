package common

import "testing"

// RequireMatchesIterator drains it and compares each entry to the
// expected batch using testing.T helpers. Fails immediately on mismatch.
func RequireMatchesIterator(t *testing.T, iter EntryIterator, expected []*Entry) {
	t.Helper()

	for i := range expected {
		entry, err := iter.Next()
		if err != nil {
			t.Fatalf("unexpected iterator error: %v", err)
		}
		if entry == nil {
			t.Fatalf("iterator exhausted at index %d", i)
		}
		if !entry.Equal(expected[i]) {
			t.Fatalf("entry mismatch at %d: got %+v want %+v", i, entry, expected[i])
		}
	}

	entry, err := iter.Next()
	if err != nil {
		t.Fatalf("unexpected iterator error at end: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected iterator to be exhausted, got %+v", entry)
	}
}
