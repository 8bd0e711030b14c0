package model

// ConversationUpdatedEvent is published after membership or metadata changes.
type ConversationUpdatedEvent struct {
	Conversation   *Conversation `json:"conversation"`
	DeletedMembers []string      `json:"deleted_members"`
}

// MemberAddedEvent is published when a user joins a conversation.
type MemberAddedEvent struct {
	Conversation *Conversation `json:"conversation"`
	MemberID     string        `json:"member"`
}

// TopicUpdatedEvent carries the system message announcing a topic change.
type TopicUpdatedEvent struct {
	Conversation *Conversation `json:"conversation"`
	Message      *Message      `json:"message"`
}

// MessageCreatedEvent is published after a message is stored.
type MessageCreatedEvent struct {
	Message *Message `json:"message"`
}

// ErrorEvent is the JSON body of an error response.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"error"`
}
