package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/inkwell-rtc/inkwell/internal/core"
)

func (ctl *EditorWSController) writePump(ctx context.Context, c *WsEditorConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *EditorWSController) readPump(ctx context.Context, sid core.SessionID, c *WsEditorConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.handleDisconnect(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleEvent(ctx, sid, c, data)
		}
	}
}

func (ctl *EditorWSController) handleEvent(ctx context.Context, sid core.SessionID, c *WsEditorConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "joinDocumentRoom":
		ctl.handleJoin(ctx, sid, c, data)
	case "update":
		ctl.handleUpdate(sid, c, data)
	case "awareness-update":
		ctl.handleAwareness(sid, c, data)
	case "updateTitle":
		ctl.handleTitle(sid, c, data)
	case "sendMessage":
		ctl.handleMessage(ctx, sid, c, data)
	case "leaveDocumentRoom":
		ctl.handleLeave(sid, c, data)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
	}
}

// handleDisconnect runs the sweep for a dropped connection: same end
// state as an explicit leave for every joined room.
func (ctl *EditorWSController) handleDisconnect(sid core.SessionID) {
	for _, upd := range ctl.Coord.Disconnect(sid) {
		ctl.broadcastAll(upd.Room, envUpdateUsers{Type: "updateUsers", Users: upd.Members})
	}
	ctl.chatLimiter.Forget(sid)
}
