package model

import (
	"regexp"
	"time"
)

// MessageType distinguishes user messages from generated ones.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// SystemEventTopicUpdated marks a system message announcing a topic change.
const SystemEventTopicUpdated = "topic_updated"

// Message represents a conversation message.
type Message struct {
	ID           string      `json:"_id"`
	Channel      string      `json:"channel"`
	Creator      string      `json:"creator"`
	Text         string      `json:"text"`
	Type         MessageType `json:"type"`
	UserMentions []string    `json:"user_mentions"`
	Moderate     bool        `json:"moderate"`
	CreatedAt    time.Time   `json:"created_at"`

	// Only set on system messages
	SystemEvent string `json:"system_event,omitempty"`
	Topic       *Topic `json:"topic,omitempty"`

	// Populated on read
	CreatorDetails *User `json:"creator_details,omitempty"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	out := *m
	out.UserMentions = append([]string(nil), m.UserMentions...)
	if m.Topic != nil {
		t := *m.Topic
		out.Topic = &t
	}
	if m.CreatorDetails != nil {
		u := *m.CreatorDetails
		out.CreatorDetails = &u
	}
	return &out
}

// Summary returns the denormalized last-message projection of m.
func (m *Message) Summary() LastMessage {
	return LastMessage{
		Text:         m.Text,
		Date:         m.CreatedAt,
		Creator:      m.Creator,
		UserMentions: append([]string{}, m.UserMentions...),
	}
}

// MentionsUser reports whether userID is mentioned in the message.
func (m *Message) MentionsUser(userID string) bool {
	for _, u := range m.UserMentions {
		if u == userID {
			return true
		}
	}
	return false
}

var mentionPattern = regexp.MustCompile(`@([a-f0-9]{24})`)

// ExtractMentions returns the user ids mentioned in text, deduplicated.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return Unique(ids)
}

// MentionPattern exposes the mention expression for renderers.
func MentionPattern() *regexp.Regexp {
	return mentionPattern
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Text     string `json:"text"`
	Moderate bool   `json:"moderate,omitempty"`
}
