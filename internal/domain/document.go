// Package domain contains entity without logic, just meta-data
package domain

type DocumentID string

type Document struct {
	ID    DocumentID `json:"id"`
	Title string     `json:"title"`
}
