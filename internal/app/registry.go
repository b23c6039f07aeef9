package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

type sessionEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc

	// Joined makes joinDocumentRoom idempotent per connection and tells
	// the disconnect sweep which rooms to inspect.
	Joined map[domain.DocumentID]bool

	// RelayDoc is the document the connection's update relay is bound
	// to. Set once on the first successful join; the guard keeps a
	// rejoin race from attaching a second relay.
	RelayDoc domain.DocumentID
}

// Registry tracks live connections: their transport endpoint, the
// documents they joined and their update-relay binding.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		Conn:   conn,
		Cancel: cancel,
		Joined: make(map[domain.DocumentID]bool),
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// MarkJoined records the join and reports whether it is the first one
// for this (connection, document) pair.
func (r *Registry) MarkJoined(sid core.SessionID, id domain.DocumentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	if e.Joined[id] {
		return false
	}
	e.Joined[id] = true
	return true
}

// UnmarkJoined clears the join record on an explicit leave, so the pair
// becomes joinable again and the disconnect sweep skips the document.
func (r *Registry) UnmarkJoined(sid core.SessionID, id domain.DocumentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		delete(e.Joined, id)
	}
}

// Joined returns the documents the connection has joined.
func (r *Registry) Joined(sid core.SessionID) []domain.DocumentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	out := make([]domain.DocumentID, 0, len(e.Joined))
	for id := range e.Joined {
		out = append(out, id)
	}
	return out
}

// BindRelay attaches the update relay to a document, once per
// connection. Reports whether this call did the binding.
func (r *Registry) BindRelay(sid core.SessionID, id domain.DocumentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.RelayDoc != "" {
		return false
	}
	e.RelayDoc = id
	return true
}

func (r *Registry) RelayDoc(sid core.SessionID) (domain.DocumentID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RelayDoc == "" {
		return "", false
	}
	return e.RelayDoc, true
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// Cancel fires the session's cancel func, tearing down its pumps.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
