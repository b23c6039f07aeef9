package domain

import "errors"

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// Member represents one participant of a document room as the presence
// list shows it. No transport or lifecycle fields here.
type Member struct {
	Username string `json:"username"`
	Colour   string `json:"colour"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(username, colour string) (Member, error) {
	if len(username) == 0 {
		return Member{}, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return Member{}, ErrUsernameTooLong
	}
	return Member{Username: username, Colour: colour}, nil
}
