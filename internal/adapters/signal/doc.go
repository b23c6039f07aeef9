package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

// handleUpdate applies an edit to the relay-bound document and forwards
// the bytes, untouched, to everyone else in the room.
func (ctl *EditorWSController) handleUpdate(
	sid core.SessionID,
	conn *WsEditorConn,
	data []byte,
) {
	type updatePayload struct {
		Type   string `json:"type"`
		Update []byte `json:"update"`
	}
	var p updatePayload
	if err := json.Unmarshal(data, &p); err != nil || len(p.Update) == 0 {
		log.Error().Err(err).Str("module", "signal").Msg("bad update payload")
		return
	}

	frame, err := marshalFrame(envUpdate{Type: "update", Update: p.Update})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("update marshal")
		return
	}
	if _, ok := ctl.Coord.Update(sid, p.Update, frame); !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("update without a joined document")
	}
}

// handleAwareness relays ephemeral cursor/selection payloads verbatim to
// the rest of the room. Nothing is stored.
func (ctl *EditorWSController) handleAwareness(
	sid core.SessionID,
	conn *WsEditorConn,
	data []byte,
) {
	type awarenessPayload struct {
		Type       string          `json:"type"`
		DocumentID string          `json:"documentId"`
		Update     json.RawMessage `json:"update"`
	}
	var p awarenessPayload
	if err := json.Unmarshal(data, &p); err != nil || p.DocumentID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad awareness payload")
		return
	}

	room, ok := ctl.Coord.Awareness(domain.DocumentID(p.DocumentID))
	if !ok {
		return
	}
	ctl.broadcastOthers(room, sid, envAwareness{Type: "awareness-update", Update: p.Update})
}

// handleTitle updates the room title for everyone, sender included, so
// the UIs stay symmetric.
func (ctl *EditorWSController) handleTitle(
	sid core.SessionID,
	conn *WsEditorConn,
	data []byte,
) {
	type titlePayload struct {
		Type       string `json:"type"`
		DocumentID string `json:"documentId"`
		Title      string `json:"title"`
	}
	var p titlePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad title payload")
		return
	}

	room, ok := ctl.Coord.UpdateTitle(domain.DocumentID(p.DocumentID), p.Title)
	if !ok {
		return
	}
	ctl.broadcastAll(room, envTitle{Type: "updateTitle", Title: p.Title})
}
