// Package domain defines shared domain types for webhook events, principals,
// and parsed commands.
package domain

// Event kinds delivered by the platform webhook. Only messages are processed.
const (
	EventMessage = "message"
)

// Source types carried by webhook events.
const (
	SourceUser  = "user"
	SourceGroup = "group"
)

// Source identifies the principal(s) behind an event. A group-sourced message
// still carries the authoring user id.
type Source struct {
	Type    string
	UserID  string
	GroupID string
}

// IsUser reports whether the event came from a direct user conversation.
func (s Source) IsUser() bool {
	return s.Type == SourceUser
}

// IsGroup reports whether the event came from a group chat.
func (s Source) IsGroup() bool {
	return s.Type == SourceGroup
}

// Event is the normalized inbound webhook event.
type Event struct {
	Kind       string
	Source     Source
	Text       string
	ReplyToken string
}

// Profile is the subset of a platform user profile the bot consumes.
type Profile struct {
	DisplayName string
}
