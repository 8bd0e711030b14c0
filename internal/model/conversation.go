// Package model defines data structures for the chat platform.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ConversationType is the kind of a conversation.
type ConversationType string

const (
	// TypeOpen is a channel: visible to and joinable by everyone.
	TypeOpen ConversationType = "open"
	// TypeConfidential is a private, membership-restricted conversation.
	TypeConfidential ConversationType = "confidential"
	// TypeCommunity is the conversation attached to a community.
	TypeCommunity ConversationType = "community"
)

// Valid reports whether t is a known conversation type.
func (t ConversationType) Valid() bool {
	switch t {
	case TypeOpen, TypeConfidential, TypeCommunity:
		return true
	}
	return false
}

// Topic is the current topic of a conversation.
type Topic struct {
	Value   string    `json:"value"`
	Creator string    `json:"creator,omitempty"`
	LastSet time.Time `json:"last_set,omitempty"`
}

// LastMessage is the denormalized summary of the most recent message.
type LastMessage struct {
	Text         string    `json:"text,omitempty"`
	Date         time.Time `json:"date"`
	Creator      string    `json:"creator,omitempty"`
	UserMentions []string  `json:"user_mentions"`
}

// Conversation is a channel, private conversation or community room.
type Conversation struct {
	ID          string           `json:"_id"`
	Type        ConversationType `json:"type"`
	Name        *string          `json:"name"`
	Avatar      string           `json:"avatar,omitempty"`
	Moderate    bool             `json:"moderate"`
	Members     []string         `json:"members"`
	Creator     string           `json:"creator,omitempty"`
	CommunityID string           `json:"community,omitempty"`
	Topic       Topic            `json:"topic"`
	LastMessage LastMessage      `json:"last_message"`

	NumOfMessage       int64            `json:"numOfMessage"`
	NumOfReadedMessage map[string]int64 `json:"numOfReadedMessage"`

	// Version is bumped by every store write.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Populated on read
	MemberDetails []User `json:"member_details,omitempty"`
}

// HasMember reports whether userID belongs to the conversation.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// UnreadCount returns the number of messages userID has not read yet.
func (c *Conversation) UnreadCount(userID string) int64 {
	n := c.NumOfMessage - c.NumOfReadedMessage[userID]
	if n < 0 {
		return 0
	}
	return n
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	out := *c
	if c.Name != nil {
		name := *c.Name
		out.Name = &name
	}
	out.Members = append([]string(nil), c.Members...)
	out.LastMessage.UserMentions = append([]string(nil), c.LastMessage.UserMentions...)
	out.NumOfReadedMessage = make(map[string]int64, len(c.NumOfReadedMessage))
	for k, v := range c.NumOfReadedMessage {
		out.NumOfReadedMessage[k] = v
	}
	out.MemberDetails = append([]User(nil), c.MemberDetails...)
	return &out
}

// Modifications is the delta accepted by a conversation update.
type Modifications struct {
	NewMembers    []string `json:"newMembers,omitempty"`
	DeleteMembers []string `json:"deleteMembers,omitempty"`
	Name          *string  `json:"name,omitempty"`
	ClearName     bool     `json:"clearName,omitempty"`
	Avatar        *string  `json:"avatar,omitempty"`
}

// Empty reports whether the modifications change nothing.
func (m Modifications) Empty() bool {
	return len(m.NewMembers) == 0 && len(m.DeleteMembers) == 0 &&
		m.Name == nil && !m.ClearName && m.Avatar == nil
}

// NewID returns a new 24 character hex object identifier.
func NewID() string {
	return bson.NewObjectID().Hex()
}

// IsID reports whether s looks like an object identifier.
func IsID(s string) bool {
	_, err := bson.ObjectIDFromHex(s)
	return err == nil
}

// Unique returns ids without duplicates, keeping first occurrences in order.
func Unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Type        ConversationType `json:"type"`
	Name        *string          `json:"name"`
	Avatar      string           `json:"avatar,omitempty"`
	Members     []string         `json:"members"`
	Moderate    bool             `json:"moderate"`
	CommunityID string           `json:"community,omitempty"`
	Topic       *Topic           `json:"topic,omitempty"`
}

// UpdateTopicRequest is the request to change a conversation topic.
type UpdateTopicRequest struct {
	Value string `json:"value"`
}

// ModerateRequest flips the moderation flag of a document.
type ModerateRequest struct {
	Moderate bool `json:"moderate"`
}

// MarkReadRequest marks a conversation read for one or many users.
type MarkReadRequest struct {
	UserIDs []string `json:"user_ids,omitempty"`
}
