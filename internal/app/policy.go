package app

import (
	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

// AccessPolicy is the hook for an upstream access check. A denial aborts
// the join with ACCESS_DENIED; the coordinator never decides access on
// its own.
type AccessPolicy interface {
	CanJoin(sid core.SessionID, id domain.DocumentID, username string) bool
}

type AllowAllPolicy struct{}

func (AllowAllPolicy) CanJoin(core.SessionID, domain.DocumentID, string) bool { return true }

// MergeMember is the presence merge policy: a joiner gets a presence
// entry only if no existing entry carries the same username. Two
// connections sharing a display name collapse into one slot on purpose;
// keep that decision here so changing it never touches the coordinator.
// Must be called with the room lock held. Reports whether an entry was
// added.
func MergeMember(members map[core.SessionID]domain.Member, sid core.SessionID, m domain.Member) bool {
	for _, existing := range members {
		if existing.Username == m.Username {
			return false
		}
	}
	members[sid] = m
	return true
}

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// BackpressurePolicy decides what happens to a connection whose send
// buffer is full. Kicking is the safe default for editors: a dropped
// update would silently fork the document, a reconnect resyncs it.
type BackpressurePolicy interface {
	OnBackpressure(sid core.SessionID) BackpressureAction
}

type KickSlowPolicy struct{}

func (KickSlowPolicy) OnBackpressure(core.SessionID) BackpressureAction { return KickMember }
