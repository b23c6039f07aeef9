package app

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

func TestGetOrCreateNotFoundLeavesNoEntry(t *testing.T) {
	docs := newFakeDocStore()
	rooms := NewRooms(docs, time.Hour)

	_, _, err := rooms.GetOrCreate(context.Background(), "missing")
	if !errors.Is(err, core.ErrDocumentNotFound) {
		t.Fatalf("Expected ErrDocumentNotFound, got %v", err)
	}
	if rooms.Len() != 0 {
		t.Error("A failed load must not leave an entry behind")
	}

	// The next attempt retries the load independently.
	docs.put("missing", nil, "Now exists")
	room, created, err := rooms.GetOrCreate(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if !created || room == nil {
		t.Error("Retry should create the room")
	}
	rooms.DrainAll()
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	docs := newFakeDocStore()
	docs.put("d1", nil, "Doc")
	rooms := NewRooms(docs, time.Hour)

	first, created, err := rooms.GetOrCreate(context.Background(), "d1")
	if err != nil || !created {
		t.Fatalf("First call should create: created=%v err=%v", created, err)
	}
	second, created, err := rooms.GetOrCreate(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if created {
		t.Error("Second call must not report creation")
	}
	if first != second {
		t.Error("Both calls should return the same room")
	}
	if docs.LoadCalls() != 1 {
		t.Errorf("Expected 1 load, got %d", docs.LoadCalls())
	}
	rooms.DrainAll()
}

func TestConcurrentTeardownSavesOnce(t *testing.T) {
	docs := newFakeDocStore()
	docs.put("d1", nil, "Doc")
	rooms := NewRooms(docs, time.Hour)

	if _, _, err := rooms.GetOrCreate(context.Background(), "d1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rooms.Teardown("d1")
		}()
	}
	wg.Wait()

	if docs.StateSaves() != 1 {
		t.Errorf("Expected exactly 1 final save, got %d", docs.StateSaves())
	}
	if rooms.Len() != 0 {
		t.Error("Room should be gone after teardown")
	}
	rooms.DrainAll()
}

// gatedDocStore blocks the first load until released, so a teardown can
// be slotted in while the load is in flight.
type gatedDocStore struct {
	*fakeDocStore
	gate    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedDocStore) Load(ctx context.Context, id domain.DocumentID) ([]byte, string, error) {
	g.gate.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.fakeDocStore.Load(ctx, id)
}

func TestGetOrCreateRetriesWhenTeardownRacesLoad(t *testing.T) {
	docs := newFakeDocStore()
	docs.put("d1", nil, "Doc")
	gated := &gatedDocStore{
		fakeDocStore: docs,
		started:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	rooms := NewRooms(gated, time.Hour)

	go func() {
		<-gated.started
		rooms.Teardown("d1")
		close(gated.release)
	}()

	room, created, err := rooms.GetOrCreate(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !created || room == nil {
		t.Fatal("The raced join should end up creating a fresh room")
	}
	if got, ok := rooms.Get("d1"); !ok || got != room {
		t.Error("The returned room must be the one the registry holds")
	}
	if docs.LoadCalls() != 2 {
		t.Errorf("Expected a reload after the raced teardown, got %d loads", docs.LoadCalls())
	}
	rooms.DrainAll()
}

func TestTeardownUnknownRoomIsNoop(t *testing.T) {
	docs := newFakeDocStore()
	rooms := NewRooms(docs, time.Hour)

	rooms.Teardown("never-existed")

	if docs.StateSaves() != 0 {
		t.Errorf("Expected no saves, got %d", docs.StateSaves())
	}
}

func TestAutosavePersistsPeriodically(t *testing.T) {
	docs := newFakeDocStore()
	docs.put("d1", nil, "Doc")
	rooms := NewRooms(docs, 10*time.Millisecond)

	room, _, err := rooms.GetOrCreate(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	room.ApplyUpdate([]byte{1})
	time.Sleep(15 * time.Millisecond)
	room.ApplyUpdate([]byte{2})
	time.Sleep(25 * time.Millisecond)

	saves := docs.StateSaves()
	if saves < 2 {
		t.Fatalf("Expected at least 2 autosaves, got %d", saves)
	}

	// Encoded state only grows, so later saves are never shorter.
	docs.mu.Lock()
	for i := 1; i < len(docs.stateSaves); i++ {
		prev, cur := docs.stateSaves[i-1], docs.stateSaves[i]
		if len(cur) < len(prev) {
			t.Errorf("Save %d shrank: %d < %d bytes", i, len(cur), len(prev))
		}
		if !bytes.HasPrefix(cur, prev) {
			t.Errorf("Save %d should extend save %d", i, i-1)
		}
	}
	docs.mu.Unlock()

	rooms.DrainAll()
}

func TestAutosaveStopsAfterTeardown(t *testing.T) {
	docs := newFakeDocStore()
	docs.put("d1", nil, "Doc")
	rooms := NewRooms(docs, 10*time.Millisecond)

	if _, _, err := rooms.GetOrCreate(context.Background(), "d1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	rooms.Teardown("d1")
	saves := docs.StateSaves()

	time.Sleep(30 * time.Millisecond)
	if docs.StateSaves() != saves {
		t.Error("No saves should happen after teardown")
	}
	rooms.DrainAll()
}

func TestListReportsActiveRooms(t *testing.T) {
	docs := newFakeDocStore()
	docs.put("d1", nil, "First")
	docs.put("d2", nil, "Second")
	rooms := NewRooms(docs, time.Hour)

	r1, _, err := rooms.GetOrCreate(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetOrCreate d1 failed: %v", err)
	}
	if _, _, err := rooms.GetOrCreate(context.Background(), "d2"); err != nil {
		t.Fatalf("GetOrCreate d2 failed: %v", err)
	}

	r1.Join("c1", &fakeConn{}, mustMember(t, "alice", "#f00"))

	infos := rooms.List()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 rooms, got %d", len(infos))
	}
	for _, info := range infos {
		if info.DocumentID == "d1" && info.MemberCount != 1 {
			t.Errorf("Expected 1 member in d1, got %d", info.MemberCount)
		}
		if info.DocumentID == "d2" && info.MemberCount != 0 {
			t.Errorf("Expected 0 members in d2, got %d", info.MemberCount)
		}
	}
	rooms.DrainAll()
}

func TestRoomLeaveReportsRemaining(t *testing.T) {
	room := newRoom("d1", nil, "Doc")
	room.Join("a", &fakeConn{}, mustMember(t, "alice", "#f00"))
	room.Join("b", &fakeConn{}, mustMember(t, "bob", "#0f0"))

	wasOccupant, membersLeft, occupantsLeft := room.Leave("a")
	if !wasOccupant {
		t.Error("a was an occupant before leaving")
	}
	if membersLeft != 1 || occupantsLeft != 1 {
		t.Errorf("Expected 1/1 remaining, got %d/%d", membersLeft, occupantsLeft)
	}

	// Leaving twice reports the connection as already gone.
	wasOccupant, _, _ = room.Leave("a")
	if wasOccupant {
		t.Error("A repeated leave must not count as an occupant")
	}

	_, membersLeft, occupantsLeft = room.Leave("b")
	if membersLeft != 0 || occupantsLeft != 0 {
		t.Errorf("Expected 0/0 remaining, got %d/%d", membersLeft, occupantsLeft)
	}
}

func TestMembersSnapshotIsSorted(t *testing.T) {
	room := newRoom("d1", nil, "Doc")
	room.Join("c", &fakeConn{}, mustMember(t, "carol", "#00f"))
	room.Join("a", &fakeConn{}, mustMember(t, "alice", "#f00"))
	room.Join("b", &fakeConn{}, mustMember(t, "bob", "#0f0"))

	snap := room.MembersSnapshot()
	if len(snap) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(snap))
	}
	if snap[0].Username != "alice" || snap[1].Username != "bob" || snap[2].Username != "carol" {
		t.Errorf("Snapshot should be sorted by username: %v", snap)
	}
}

func mustMember(t *testing.T, username, colour string) domain.Member {
	t.Helper()
	m, err := domain.NewMember(username, colour)
	if err != nil {
		t.Fatalf("Failed to build member: %v", err)
	}
	return m
}
