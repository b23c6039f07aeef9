package signal

func (ctl *EditorWSController) handlePing(
	conn *WsEditorConn,
) {
	ctl.sendJSON(conn, envPong{Type: "pong"})
}
