package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/inkwell-rtc/inkwell/internal/app"
	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

func (ctl *EditorWSController) handleJoin(
	ctx context.Context,
	sid core.SessionID,
	conn *WsEditorConn,
	data []byte,
) {
	type joinPayload struct {
		Type       string `json:"type"`
		DocumentID string `json:"documentId"`
		Username   string `json:"username"`
		Colour     string `json:"colour"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.DocumentID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		return
	}

	id := domain.DocumentID(p.DocumentID)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("doc", p.DocumentID).Str("user", p.Username).Msg("join")

	res, err := ctl.Coord.Join(ctx, sid, id, p.Username, p.Colour)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrDocumentNotFound):
			ctl.sendError(conn, "Document not found", "DOCUMENT_NOT_FOUND")
		case errors.Is(err, app.ErrAccessDenied):
			ctl.sendError(conn, "Access denied", "ACCESS_DENIED")
		default:
			log.Error().Err(err).Str("module", "signal").Str("doc", p.DocumentID).Msg("join failed")
			ctl.sendError(conn, "Document not found", "DOCUMENT_NOT_FOUND")
		}
		return
	}
	if res == nil {
		// Idempotent rejoin, nothing to send.
		return
	}

	// Everyone in the room sees the new presence list; the snapshot and
	// history go to the joiner alone.
	ctl.broadcastAll(res.Room, envUpdateUsers{Type: "updateUsers", Users: res.Members})

	ctl.sendJSON(conn, envInitialState{Type: "initialState", State: res.State})
	ctl.sendJSON(conn, envTitle{Type: "updateTitle", Title: res.Title})
	// Nil only when the history load failed; empty history still ships.
	if res.Messages != nil {
		ctl.sendJSON(conn, envLoadMessages{Type: "loadMessages", Messages: res.Messages})
	}
}

func (ctl *EditorWSController) handleLeave(
	sid core.SessionID,
	conn *WsEditorConn,
	data []byte,
) {
	type leavePayload struct {
		Type       string `json:"type"`
		DocumentID string `json:"documentId"`
	}
	var p leavePayload
	if err := json.Unmarshal(data, &p); err != nil || p.DocumentID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave payload")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("doc", p.DocumentID).Msg("leave")

	upd, ok := ctl.Coord.Leave(sid, domain.DocumentID(p.DocumentID))
	if !ok {
		return
	}
	ctl.broadcastAll(upd.Room, envUpdateUsers{Type: "updateUsers", Users: upd.Members})
}
