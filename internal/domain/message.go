package domain

import "time"

// ChatMessage is one persisted chat entry of a document room.
type ChatMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
