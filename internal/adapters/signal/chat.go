package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

func (ctl *EditorWSController) handleMessage(
	ctx context.Context,
	sid core.SessionID,
	conn *WsEditorConn,
	data []byte,
) {
	type messagePayload struct {
		Type       string `json:"type"`
		DocumentID string `json:"documentId"`
		Username   string `json:"username"`
		Message    string `json:"message"`
	}
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad chat payload")
		return
	}

	if !ctl.chatLimiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("chat rate limit exceeded")
		return
	}

	room, msg, ok := ctl.Coord.SendMessage(ctx, domain.DocumentID(p.DocumentID), p.Username, p.Message)
	if !ok {
		return
	}
	ctl.broadcastAll(room, envReceiveMessage{Type: "receiveMessage", Message: msg})
}
