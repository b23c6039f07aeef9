package signal

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/inkwell-rtc/inkwell/internal/domain"
)

func TestUpdateEnvelopeCarriesBase64(t *testing.T) {
	frame, err := marshalFrame(envUpdate{Type: "update", Update: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(frame), `"type":"update"`) {
		t.Errorf("Envelope should carry its type: %s", frame)
	}

	// The client decodes the same shape back into raw bytes.
	var decoded struct {
		Type   string `json:"type"`
		Update []byte `json:"update"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded.Update) != 3 || decoded.Update[0] != 1 {
		t.Errorf("Update bytes did not round-trip: %v", decoded.Update)
	}
}

func TestAwarenessEnvelopeStaysOpaque(t *testing.T) {
	payload := json.RawMessage(`{"cursor":{"line":4,"ch":2}}`)
	frame, err := marshalFrame(envAwareness{Type: "awareness-update", Update: payload})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(frame), `"cursor"`) {
		t.Errorf("Awareness payload must be relayed verbatim: %s", frame)
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	frame, err := marshalFrame(envError{Type: "documentError", Error: "Document not found", Code: "DOCUMENT_NOT_FOUND"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["code"] != "DOCUMENT_NOT_FOUND" {
		t.Errorf("Expected DOCUMENT_NOT_FOUND, got %q", decoded["code"])
	}
}

func TestReceiveMessageEnvelope(t *testing.T) {
	msg := domain.ChatMessage{Username: "alice", Message: "hi"}
	frame, err := marshalFrame(envReceiveMessage{Type: "receiveMessage", Message: msg})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded struct {
		Message struct {
			Username string `json:"username"`
			Message  string `json:"message"`
		} `json:"message"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Message.Username != "alice" || decoded.Message.Message != "hi" {
		t.Errorf("Message did not round-trip: %+v", decoded.Message)
	}
}
