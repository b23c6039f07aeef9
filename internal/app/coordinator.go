package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

// ErrAccessDenied aborts a join rejected by the access policy.
var ErrAccessDenied = errors.New("access denied")

// Coordinator turns per-connection events into consistent shared room
// state. The signal adapter owns the wire format and fan-out; the
// coordinator owns membership, the update log, timers and persistence.
type Coordinator struct {
	Registry *Registry
	Rooms    *Rooms
	Docs     core.DocumentStore
	Chats    core.ChatStore
	Access   AccessPolicy
	Pressure BackpressurePolicy

	tasks conc.WaitGroup
}

func NewCoordinator(reg *Registry, rooms *Rooms, docs core.DocumentStore, chats core.ChatStore) *Coordinator {
	return &Coordinator{
		Registry: reg,
		Rooms:    rooms,
		Docs:     docs,
		Chats:    chats,
		Access:   AllowAllPolicy{},
		Pressure: KickSlowPolicy{},
	}
}

// JoinResult carries everything the adapter needs to answer a join: the
// joiner-only snapshot plus the room for the presence broadcast.
type JoinResult struct {
	Room     *Room
	State    []byte
	Title    string
	Members  []domain.Member
	Messages []domain.ChatMessage
}

// Join runs the join sequence for one (connection, document) pair.
// A repeated join from the same connection returns (nil, nil): nothing
// to do, nothing to send.
func (c *Coordinator) Join(ctx context.Context, sid core.SessionID, id domain.DocumentID, username, colour string) (*JoinResult, error) {
	if !c.Registry.MarkJoined(sid, id) {
		log.Debug().Str("module", "app.coordinator").Str("sid", string(sid)).Str("doc", string(id)).Msg("already joined, skipping")
		return nil, nil
	}

	if !c.Access.CanJoin(sid, id, username) {
		return nil, ErrAccessDenied
	}

	member, err := domain.NewMember(username, colour)
	if err != nil {
		return nil, err
	}

	room, _, err := c.Rooms.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}

	conn, ok := c.Registry.Conn(sid)
	if !ok {
		return nil, errors.New("no connection bound for session")
	}

	room.Join(sid, conn, member)

	// Empty history is still history: only a failed load leaves the
	// snapshot without one.
	messages, err := c.Chats.Messages(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("doc", string(id)).Msg("chat history load failed")
		messages = nil
	} else if messages == nil {
		messages = []domain.ChatMessage{}
	}

	c.Registry.BindRelay(sid, id)

	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Str("doc", string(id)).Str("user", username).Msg("joined document room")

	return &JoinResult{
		Room:     room,
		State:    room.EncodeState(),
		Title:    room.Title(),
		Members:  room.MembersSnapshot(),
		Messages: messages,
	}, nil
}

// Update applies relayed update bytes to the room the connection's
// relay is bound to and fans the prebuilt frame out to everyone else.
// Apply and fan-out share the room lock, so per-room delivery order
// matches apply order.
func (c *Coordinator) Update(sid core.SessionID, update []byte, frame core.Frame) (core.PublishResult, bool) {
	id, ok := c.Registry.RelayDoc(sid)
	if !ok {
		return core.PublishResult{}, false
	}
	room, ok := c.Rooms.Get(id)
	if !ok {
		return core.PublishResult{}, false
	}
	res := room.RelayUpdate(sid, update, frame)
	c.OnBackpressure(res.Dropped)
	return res, true
}

// Awareness resolves the room for an ephemeral presence relay. Nothing
// is stored server-side.
func (c *Coordinator) Awareness(id domain.DocumentID) (*Room, bool) {
	return c.Rooms.Get(id)
}

// UpdateTitle mutates the room title and persists it asynchronously.
// A store failure is logged; the in-memory title stays authoritative.
func (c *Coordinator) UpdateTitle(id domain.DocumentID, title string) (*Room, bool) {
	if id == "" || title == "" {
		log.Warn().Str("module", "app.coordinator").Msg("invalid title update request")
		return nil, false
	}
	room, ok := c.Rooms.Get(id)
	if !ok {
		return nil, false
	}
	room.SetTitle(title)

	c.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := c.Docs.SaveTitle(ctx, id, title); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Str("doc", string(id)).Msg("title save failed")
		}
	})
	return room, true
}

// SendMessage stamps, persists and returns a chat message. Persistence
// runs before the broadcast; its failure is logged but chat delivery is
// best-effort, not transactional.
func (c *Coordinator) SendMessage(ctx context.Context, id domain.DocumentID, username, message string) (*Room, domain.ChatMessage, bool) {
	if id == "" || username == "" || message == "" {
		log.Warn().Str("module", "app.coordinator").Msg("invalid chat message, dropping")
		return nil, domain.ChatMessage{}, false
	}
	room, ok := c.Rooms.Get(id)
	if !ok {
		return nil, domain.ChatMessage{}, false
	}

	msg := domain.ChatMessage{
		Username:  username,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := c.Chats.Append(ctx, id, msg); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("doc", string(id)).Msg("chat save failed")
	}
	return room, msg, true
}

// PresenceUpdate is one post-mutation membership snapshot the adapter
// still has to broadcast.
type PresenceUpdate struct {
	Room    *Room
	Members []domain.Member
}

// Leave handles an explicit leaveDocumentRoom. When the last presence
// entry disappears the room is torn down; the returned update (if any)
// is the snapshot for the remaining occupants.
func (c *Coordinator) Leave(sid core.SessionID, id domain.DocumentID) (PresenceUpdate, bool) {
	room, ok := c.Rooms.Get(id)
	if !ok {
		return PresenceUpdate{}, false
	}

	_, membersLeft, _ := room.Leave(sid)
	c.Registry.UnmarkJoined(sid, id)
	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Str("doc", string(id)).Int("remaining", membersLeft).Msg("left document room")

	if membersLeft == 0 {
		c.Rooms.Teardown(id)
	}
	return PresenceUpdate{Room: room, Members: room.MembersSnapshot()}, true
}

// Disconnect sweeps every document the connection is still joined to.
// A room the connection no longer occupies (it left explicitly) is
// skipped; the last occupant routes through the same Teardown as an
// explicit leave, anyone else yields a presence update for the adapter
// to broadcast.
func (c *Coordinator) Disconnect(sid core.SessionID) []PresenceUpdate {
	var updates []PresenceUpdate
	for _, id := range c.Registry.Joined(sid) {
		room, ok := c.Rooms.Get(id)
		if !ok {
			continue
		}
		wasOccupant, _, occupantsLeft := room.Leave(sid)
		if !wasOccupant {
			continue
		}
		if occupantsLeft == 0 {
			c.Rooms.Teardown(id)
			log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Str("doc", string(id)).Msg("last occupant disconnected, room torn down")
			continue
		}
		updates = append(updates, PresenceUpdate{Room: room, Members: room.MembersSnapshot()})
	}
	c.Registry.Unbind(sid)
	return updates
}

// OnBackpressure applies the backpressure policy to connections that
// dropped a broadcast frame.
func (c *Coordinator) OnBackpressure(dropped []core.SessionID) {
	for _, sid := range dropped {
		switch c.Pressure.OnBackpressure(sid) {
		case KickMember:
			log.Warn().Str("module", "app.coordinator").Str("sid", string(sid)).Msg("kicking slow consumer")
			c.Registry.Cancel(sid)
		case DropFrame, NoAction:
		}
	}
}

// Shutdown waits for outstanding persistence tasks and drains all rooms.
func (c *Coordinator) Shutdown() {
	c.Rooms.DrainAll()
	c.tasks.Wait()
}
