// Package codec holds the opaque update log backing a document room.
//
// Updates produced by the editor's CRDT engine are never interpreted
// here: merge is commutative and idempotent on the client side, so the
// server only has to keep every update it relayed and hand the whole
// log to late joiners. Encoded state is a length-prefixed concatenation
// of updates, the same framing the clients split and apply one by one.
package codec

import "sync"

// Doc is the server-side handle for one document's update log.
// A Doc is owned by exactly one room; the room serializes mutation,
// the internal lock only covers snapshot reads racing the autosaver.
type Doc struct {
	mu      sync.RWMutex
	updates [][]byte
}

func NewDoc() *Doc {
	return &Doc{updates: make([][]byte, 0)}
}

// ApplyUpdate appends one opaque update to the log.
func (d *Doc) ApplyUpdate(update []byte) {
	buf := make([]byte, len(update))
	copy(buf, update)
	d.mu.Lock()
	d.updates = append(d.updates, buf)
	d.mu.Unlock()
}

// ApplyState seeds the log from a previously encoded state.
func (d *Doc) ApplyState(state []byte) {
	for _, update := range Split(state) {
		d.ApplyUpdate(update)
	}
}

// EncodeState returns the framed concatenation of every applied update.
// The result only ever grows as updates are applied.
func (d *Doc) EncodeState() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Merge(d.updates)
}

// UpdateCount reports how many updates the log holds.
func (d *Doc) UpdateCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.updates)
}

// Merge frames each update with a big-endian uint32 length prefix.
func Merge(updates [][]byte) []byte {
	totalSize := 0
	for _, update := range updates {
		totalSize += len(update)
	}

	merged := make([]byte, 0, totalSize+len(updates)*4)
	for _, update := range updates {
		length := uint32(len(update))
		merged = append(merged, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
		merged = append(merged, update...)
	}
	return merged
}

// Split undoes Merge. A truncated tail is dropped rather than rejected:
// a half-written final frame must not make the whole document unloadable.
func Split(state []byte) [][]byte {
	var updates [][]byte
	offset := 0

	for offset < len(state) {
		if offset+4 > len(state) {
			break
		}

		length := uint32(state[offset])<<24 |
			uint32(state[offset+1])<<16 |
			uint32(state[offset+2])<<8 |
			uint32(state[offset+3])
		offset += 4

		if offset+int(length) > len(state) {
			break
		}

		update := make([]byte, length)
		copy(update, state[offset:offset+int(length)])
		updates = append(updates, update)
		offset += int(length)
	}
	return updates
}
