package codec

import (
	"bytes"
	"sync"
	"testing"
)

func TestMergeSplitRoundTrip(t *testing.T) {
	updates := [][]byte{
		{0, 1, 2, 3},
		{},
		{0xff},
		{9, 8, 7, 6, 5},
	}

	merged := Merge(updates)
	split := Split(merged)

	if len(split) != len(updates) {
		t.Fatalf("Expected %d updates, got %d", len(updates), len(split))
	}
	for i := range updates {
		if !bytes.Equal(split[i], updates[i]) {
			t.Errorf("Update %d mismatch: %v != %v", i, split[i], updates[i])
		}
	}
}

func TestSplitTruncatedTail(t *testing.T) {
	merged := Merge([][]byte{{1, 2, 3}, {4, 5, 6}})

	// Cut into the middle of the second frame.
	split := Split(merged[:len(merged)-2])

	if len(split) != 1 {
		t.Fatalf("Expected 1 complete update, got %d", len(split))
	}
	if !bytes.Equal(split[0], []byte{1, 2, 3}) {
		t.Errorf("Unexpected first update: %v", split[0])
	}
}

func TestSplitEmpty(t *testing.T) {
	if got := Split(nil); got != nil {
		t.Errorf("Expected nil for empty state, got %v", got)
	}
}

func TestDocApplyAndEncode(t *testing.T) {
	doc := NewDoc()
	doc.ApplyUpdate([]byte{1, 1})
	doc.ApplyUpdate([]byte{2, 2})

	state := doc.EncodeState()
	split := Split(state)
	if len(split) != 2 {
		t.Fatalf("Expected 2 updates in state, got %d", len(split))
	}

	// Re-seed a fresh doc from the encoded state.
	seeded := NewDoc()
	seeded.ApplyState(state)
	if seeded.UpdateCount() != 2 {
		t.Errorf("Expected 2 updates after ApplyState, got %d", seeded.UpdateCount())
	}
	if !bytes.Equal(seeded.EncodeState(), state) {
		t.Error("Re-encoded state should match the original")
	}
}

func TestDocApplyDoesNotAliasCaller(t *testing.T) {
	doc := NewDoc()
	update := []byte{1, 2, 3}
	doc.ApplyUpdate(update)
	update[0] = 99

	split := Split(doc.EncodeState())
	if split[0][0] != 1 {
		t.Error("Doc should copy applied updates")
	}
}

func TestDocStateGrowsMonotonically(t *testing.T) {
	doc := NewDoc()
	prev := doc.EncodeState()
	for i := 0; i < 10; i++ {
		doc.ApplyUpdate([]byte{byte(i)})
		state := doc.EncodeState()
		if len(state) < len(prev) {
			t.Fatalf("State shrank from %d to %d bytes", len(prev), len(state))
		}
		if !bytes.HasPrefix(state, prev) {
			t.Fatal("Earlier state should be a prefix of the later one")
		}
		prev = state
	}
}

func TestDocConcurrentApply(t *testing.T) {
	doc := NewDoc()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc.ApplyUpdate([]byte{byte(i)})
		}(i)
	}
	wg.Wait()

	if doc.UpdateCount() != 100 {
		t.Errorf("Expected 100 updates, got %d", doc.UpdateCount())
	}
}
