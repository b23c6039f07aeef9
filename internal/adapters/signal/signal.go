package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/inkwell-rtc/inkwell/internal/app"
	"github.com/inkwell-rtc/inkwell/internal/config"
	"github.com/inkwell-rtc/inkwell/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// EditorWSController is the websocket endpoint for editor sessions. It
// owns the wire format (JSON envelopes keyed by "type") and delegates
// every state decision to the coordinator.
type EditorWSController struct {
	Coord *app.Coordinator
	Cfg   *config.Config

	chatLimiter *EventRateLimiter
}

func NewEditorWSController(coord *app.Coordinator, cfg *config.Config) *EditorWSController {
	return &EditorWSController{
		Coord:       coord,
		Cfg:         cfg,
		chatLimiter: NewEventRateLimiter(cfg.ChatRateLimit, cfg.ChatRateInterval),
	}
}

type WsEditorConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsEditorConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsEditorConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *EditorWSController) HandleEditor(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}

	conn := &WsEditorConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Coord.Registry.Bind(sid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

func (ctl *EditorWSController) sendJSON(conn core.SignalConnection, v any) {
	b, err := marshalFrame(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(b)
}

// broadcastAll fans an envelope out to every room occupant, the sender
// included.
func (ctl *EditorWSController) broadcastAll(room *app.Room, v any) {
	b, err := marshalFrame(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	res := room.BroadcastAll(b)
	ctl.Coord.OnBackpressure(res.Dropped)
}

// broadcastOthers fans an envelope out to everyone but the sender.
func (ctl *EditorWSController) broadcastOthers(room *app.Room, from core.SessionID, v any) {
	b, err := marshalFrame(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	res := room.Broadcast(from, b)
	ctl.Coord.OnBackpressure(res.Dropped)
}

func (ctl *EditorWSController) sendError(conn core.SignalConnection, message, code string) {
	ctl.sendJSON(conn, envError{Type: "documentError", Error: message, Code: code})
}
