package signal

import (
	"encoding/json"

	"github.com/inkwell-rtc/inkwell/internal/core"
	"github.com/inkwell-rtc/inkwell/internal/domain"
)

// Outbound envelopes. Binary update payloads ride base64-encoded via the
// default []byte marshaling; awareness payloads stay opaque RawMessage.

type envError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type envUpdateUsers struct {
	Type  string          `json:"type"`
	Users []domain.Member `json:"users"`
}

type envInitialState struct {
	Type  string `json:"type"`
	State []byte `json:"state"`
}

type envTitle struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

type envLoadMessages struct {
	Type     string               `json:"type"`
	Messages []domain.ChatMessage `json:"messages"`
}

type envUpdate struct {
	Type   string `json:"type"`
	Update []byte `json:"update"`
}

type envAwareness struct {
	Type   string          `json:"type"`
	Update json.RawMessage `json:"update"`
}

type envReceiveMessage struct {
	Type    string             `json:"type"`
	Message domain.ChatMessage `json:"message"`
}

type envPong struct {
	Type string `json:"type"`
}

func marshalFrame(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	return core.Frame(b), err
}
