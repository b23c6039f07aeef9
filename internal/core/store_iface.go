package core

import (
	"context"
	"errors"

	"github.com/inkwell-rtc/inkwell/internal/domain"
)

// ErrDocumentNotFound is returned by DocumentStore.Load for unknown ids.
// Creating documents is the CRUD surface's job, never the coordinator's.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore persists document state and titles.
// Implementations are expected to be safe for concurrent use.
type DocumentStore interface {
	Load(ctx context.Context, id domain.DocumentID) (state []byte, title string, err error)
	SaveState(ctx context.Context, id domain.DocumentID, state []byte) error
	SaveTitle(ctx context.Context, id domain.DocumentID, title string) error
}

// ChatStore persists per-document chat history.
type ChatStore interface {
	Messages(ctx context.Context, id domain.DocumentID) ([]domain.ChatMessage, error)
	Append(ctx context.Context, id domain.DocumentID, msg domain.ChatMessage) error
}

// RoomInfo is a read-only view of an active room for APIs.
type RoomInfo struct {
	DocumentID  domain.DocumentID `json:"document_id"`
	Title       string            `json:"title"`
	MemberCount int               `json:"member_count"`
}
