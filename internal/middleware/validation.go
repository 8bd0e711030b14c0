package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/chat-platform/internal/model"
)

const (
	maxMessageLength = 10000
	maxNameLength    = 256
	maxTopicLength   = 512
	maxBatchIDs      = 500
)

// ValidateMessageText validates message text.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("text cannot be empty")
	}
	if len(text) > maxMessageLength {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateID validates an object identifier of the given kind.
func ValidateID(kind, id string) error {
	if !model.IsID(id) {
		return fmt.Errorf("invalid %s ID format", kind)
	}
	return nil
}

// ValidateIDs validates a batch of user identifiers.
func ValidateIDs(ids []string) error {
	if len(ids) > maxBatchIDs {
		return errors.New("too many user IDs")
	}
	for _, id := range ids {
		if err := ValidateID("user", id); err != nil {
			return err
		}
	}
	return nil
}

// ValidateName validates a conversation name.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return errors.New("name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("name must be valid UTF-8")
	}
	return nil
}

// ValidateTopic validates a topic value.
func ValidateTopic(topic string) error {
	if len(topic) > maxTopicLength {
		return errors.New("topic exceeds maximum length")
	}
	if !utf8.ValidString(topic) {
		return errors.New("topic must be valid UTF-8")
	}
	return nil
}
