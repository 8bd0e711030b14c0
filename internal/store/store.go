// Package store defines the document store contract shared by the MongoDB
// and in-memory implementations.
package store

import (
	"errors"

	"github.com/capitalize-ai/chat-platform/internal/model"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrVersionConflict is returned when an update expected a version the
// document no longer has.
var ErrVersionConflict = errors.New("document version conflict")

// ConversationUpdate is a single atomic update of one conversation document.
// Each field maps onto one field-level update operator.
type ConversationUpdate struct {
	// $set
	Name        *string
	ClearName   bool
	Avatar      *string
	Moderate    *bool
	Topic       *model.Topic
	LastMessage *model.LastMessage
	Members     []string

	// $inc numOfMessage
	IncMessages int64

	// $addToSet / $pullAll on members
	AddMembers    []string
	RemoveMembers []string

	// $max / $unset on numOfReadedMessage.<user>
	ReadCounters      map[string]int64
	ClearReadCounters []string

	// ExpectVersion makes the update conditional on the stored version.
	ExpectVersion *int64
}

// Empty reports whether the update would change nothing but the version.
func (u ConversationUpdate) Empty() bool {
	return u.Name == nil && !u.ClearName && u.Avatar == nil && u.Moderate == nil &&
		u.Topic == nil && u.LastMessage == nil && u.Members == nil && u.IncMessages == 0 &&
		len(u.AddMembers) == 0 && len(u.RemoveMembers) == 0 &&
		len(u.ReadCounters) == 0 && len(u.ClearReadCounters) == 0
}

// MessageFilter selects messages of one conversation.
type MessageFilter struct {
	Channel          string
	IncludeModerated bool
	Limit            int
	Offset           int
}
