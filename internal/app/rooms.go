package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/inkwell-rtc/inkwell/internal/codec"
	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

const saveTimeout = 5 * time.Second

// Room is the in-memory session state of one open document: its update
// log, title, occupants and presence entries. All mutation goes through
// the coordinator; the lock serializes it per room.
type Room struct {
	documentID domain.DocumentID

	mu    sync.Mutex
	doc   *codec.Doc
	title string

	// occupants is the broadcast audience. members is the presence
	// list; a subset of occupants because of the username merge policy.
	occupants map[core.SessionID]core.SignalConnection
	members   map[core.SessionID]domain.Member

	autosaveStop chan struct{}
	stopOnce     sync.Once
}

func newRoom(id domain.DocumentID, state []byte, title string) *Room {
	doc := codec.NewDoc()
	doc.ApplyState(state)
	return &Room{
		documentID:   id,
		doc:          doc,
		title:        title,
		occupants:    make(map[core.SessionID]core.SignalConnection),
		members:      make(map[core.SessionID]domain.Member),
		autosaveStop: make(chan struct{}),
	}
}

func (r *Room) DocumentID() domain.DocumentID { return r.documentID }

// Join adds the connection to the broadcast audience and merges it into
// the presence list. Reports whether a presence entry was added.
func (r *Room) Join(sid core.SessionID, conn core.SignalConnection, m domain.Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.occupants[sid] = conn
	return MergeMember(r.members, sid, m)
}

// Leave removes the connection and reports whether it was still an
// occupant, plus how many presence entries and occupants remain. The
// check and the removal share the lock so concurrent leaves can't both
// observe each other as "still present".
func (r *Room) Leave(sid core.SessionID) (wasOccupant bool, membersLeft, occupantsLeft int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, wasOccupant = r.occupants[sid]
	delete(r.occupants, sid)
	delete(r.members, sid)
	return wasOccupant, len(r.members), len(r.occupants)
}

func (r *Room) OccupantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.occupants)
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// MembersSnapshot returns the presence list, sorted by username so every
// broadcast carries the same order.
func (r *Room) MembersSnapshot() []domain.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (r *Room) ApplyUpdate(update []byte) {
	r.doc.ApplyUpdate(update)
}

func (r *Room) EncodeState() []byte {
	return r.doc.EncodeState()
}

func (r *Room) Title() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.title
}

func (r *Room) SetTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.title = title
}

// RelayUpdate appends an update to the log and fans the frame out to
// everyone else in one critical section, so receivers see updates in
// the order they were applied.
func (r *Room) RelayUpdate(from core.SessionID, update []byte, frame core.Frame) core.PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.ApplyUpdate(update)
	return r.broadcastLocked(from, frame)
}

// Broadcast fans a frame out to every occupant except the sender.
func (r *Room) Broadcast(from core.SessionID, frame core.Frame) core.PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(from, frame)
}

func (r *Room) broadcastLocked(from core.SessionID, frame core.Frame) core.PublishResult {
	res := core.PublishResult{}
	for sid, conn := range r.occupants {
		if sid == from {
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SentTo++
	}
	return res
}

// BroadcastAll fans a frame out to every occupant, sender included.
func (r *Room) BroadcastAll(frame core.Frame) core.PublishResult {
	return r.Broadcast("", frame)
}

func (r *Room) stopAutosave() {
	r.stopOnce.Do(func() { close(r.autosaveStop) })
}

func (r *Room) runAutosave(docs core.DocumentStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.autosaveStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			err := docs.SaveState(ctx, r.documentID, r.EncodeState())
			cancel()
			if err != nil {
				log.Error().Err(err).Str("module", "app.rooms").Str("doc", string(r.documentID)).Msg("autosave failed")
				continue
			}
			log.Debug().Str("module", "app.rooms").Str("doc", string(r.documentID)).Msg("autosaved")
		}
	}
}

type roomEntry struct {
	once sync.Once

	// mu guards room and err: a teardown or lookup can inspect the
	// entry while the load inside once is still writing it.
	mu   sync.Mutex
	room *Room
	err  error
}

func (e *roomEntry) get() (*Room, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room, e.err
}

// Rooms is the room registry: the single source of truth for which
// documents are currently active.
type Rooms struct {
	docs     core.DocumentStore
	interval time.Duration

	mu    sync.Mutex
	rooms map[domain.DocumentID]*roomEntry

	tasks conc.WaitGroup
}

func NewRooms(docs core.DocumentStore, autosaveInterval time.Duration) *Rooms {
	return &Rooms{
		docs:     docs,
		interval: autosaveInterval,
		rooms:    make(map[domain.DocumentID]*roomEntry),
	}
}

// GetOrCreate returns the active room for a document, loading it from
// the store on first use. Concurrent first joins share one load: the
// entry is inserted under the lock, the load itself runs in a sync.Once
// so unrelated documents never wait on each other's I/O. A failed load
// removes the entry again so the next join retries, and a room is only
// returned once its entry is confirmed to still be registered, so a
// teardown racing the load can never hand out a room the registry has
// already forgotten.
func (rs *Rooms) GetOrCreate(ctx context.Context, id domain.DocumentID) (*Room, bool, error) {
	for {
		rs.mu.Lock()
		e, ok := rs.rooms[id]
		if !ok {
			e = &roomEntry{}
			rs.rooms[id] = e
		}
		rs.mu.Unlock()

		created := false
		e.once.Do(func() {
			state, title, err := rs.docs.Load(ctx, id)
			e.mu.Lock()
			defer e.mu.Unlock()
			if err != nil {
				e.err = err
				return
			}
			room := newRoom(id, state, title)
			rs.tasks.Go(func() { room.runAutosave(rs.docs, rs.interval) })
			e.room = room
			created = true
			log.Info().Str("module", "app.rooms").Str("doc", string(id)).Msg("room created")
		})

		room, err := e.get()
		if err != nil {
			rs.mu.Lock()
			if cur, ok := rs.rooms[id]; ok && cur == e {
				delete(rs.rooms, id)
			}
			rs.mu.Unlock()
			return nil, false, err
		}

		rs.mu.Lock()
		cur, ok := rs.rooms[id]
		rs.mu.Unlock()
		if ok && cur == e {
			return room, created, nil
		}

		// Torn down between the load and here. Teardown owns the final
		// save when it saw the room; if it only saw the bare entry the
		// autosaver is still running, so stop it before starting over.
		room.stopAutosave()
	}
}

// Get returns an active room without creating one.
func (rs *Rooms) Get(id domain.DocumentID) (*Room, bool) {
	rs.mu.Lock()
	e, ok := rs.rooms[id]
	rs.mu.Unlock()
	if !ok {
		return nil, false
	}
	room, _ := e.get()
	if room == nil {
		return nil, false
	}
	return room, true
}

// Teardown ends a room's lifecycle: the first caller removes the entry,
// stops the autosaver and performs one synchronous final save. Later
// callers observe "already gone" and no-op, so the explicit-leave path
// and the disconnect sweep can both call it without double-saving.
func (rs *Rooms) Teardown(id domain.DocumentID) {
	rs.mu.Lock()
	e, ok := rs.rooms[id]
	if ok {
		delete(rs.rooms, id)
	}
	rs.mu.Unlock()

	if !ok {
		return
	}
	room, _ := e.get()
	if room == nil {
		// Still loading; GetOrCreate notices the removal and retries.
		return
	}

	room.stopAutosave()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := rs.docs.SaveState(ctx, id, room.EncodeState()); err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("doc", string(id)).Msg("final save failed")
	} else {
		log.Info().Str("module", "app.rooms").Str("doc", string(id)).Msg("room torn down")
	}
}

func (rs *Rooms) List() []core.RoomInfo {
	rs.mu.Lock()
	entries := make([]*roomEntry, 0, len(rs.rooms))
	for _, e := range rs.rooms {
		entries = append(entries, e)
	}
	rs.mu.Unlock()

	out := make([]core.RoomInfo, 0, len(entries))
	for _, e := range entries {
		room, _ := e.get()
		if room == nil {
			continue
		}
		out = append(out, core.RoomInfo{
			DocumentID:  room.DocumentID(),
			Title:       room.Title(),
			MemberCount: room.MemberCount(),
		})
	}
	return out
}

func (rs *Rooms) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.rooms)
}

// DrainAll tears down every room and waits for the autosave loops. Used
// on shutdown so each open document gets its final save.
func (rs *Rooms) DrainAll() {
	rs.mu.Lock()
	ids := make([]domain.DocumentID, 0, len(rs.rooms))
	for id := range rs.rooms {
		ids = append(ids, id)
	}
	rs.mu.Unlock()

	for _, id := range ids {
		rs.Teardown(id)
	}
	rs.tasks.Wait()
}
