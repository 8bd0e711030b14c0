package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/capitalize-ai/chat-platform/internal/model"
)

// --- MongoDB document types ---

type timestampsDoc struct {
	Creation time.Time `bson:"creation"`
	Updated  time.Time `bson:"updated,omitempty"`
}

type topicDoc struct {
	Value   string    `bson:"value"`
	Creator string    `bson:"creator,omitempty"`
	LastSet time.Time `bson:"last_set,omitempty"`
}

type lastMessageDoc struct {
	Text         string    `bson:"text,omitempty"`
	Date         time.Time `bson:"date"`
	Creator      string    `bson:"creator,omitempty"`
	UserMentions []string  `bson:"user_mentions"`
}

type conversationDoc struct {
	ID                 bson.ObjectID    `bson:"_id"`
	Type               string           `bson:"type"`
	Name               *string          `bson:"name"`
	Avatar             string           `bson:"avatar,omitempty"`
	Moderate           bool             `bson:"moderate"`
	Members            []string         `bson:"members"`
	Creator            string           `bson:"creator,omitempty"`
	CommunityID        string           `bson:"community,omitempty"`
	Topic              topicDoc         `bson:"topic"`
	LastMessage        lastMessageDoc   `bson:"last_message"`
	NumOfMessage       int64            `bson:"numOfMessage"`
	NumOfReadedMessage map[string]int64 `bson:"numOfReadedMessage"`
	Version            int64            `bson:"version"`
	Timestamps         timestampsDoc    `bson:"timestamps"`
}

type messageDoc struct {
	ID           bson.ObjectID `bson:"_id"`
	Channel      string        `bson:"channel"`
	Creator      string        `bson:"creator"`
	Text         string        `bson:"text"`
	Type         string        `bson:"type"`
	UserMentions []string      `bson:"user_mentions"`
	Moderate     bool          `bson:"moderate"`
	Timestamps   timestampsDoc `bson:"timestamps"`
}

type userDoc struct {
	ID        bson.ObjectID `bson:"_id"`
	Username  string        `bson:"username"`
	Firstname string        `bson:"firstname"`
	Lastname  string        `bson:"lastname"`
	Avatar    string        `bson:"avatar,omitempty"`
}

func toConversationDoc(c *model.Conversation) (conversationDoc, error) {
	oid, err := bson.ObjectIDFromHex(c.ID)
	if err != nil {
		return conversationDoc{}, err
	}
	doc := conversationDoc{
		ID:          oid,
		Type:        string(c.Type),
		Name:        c.Name,
		Avatar:      c.Avatar,
		Moderate:    c.Moderate,
		Members:     c.Members,
		Creator:     c.Creator,
		CommunityID: c.CommunityID,
		Topic: topicDoc{
			Value:   c.Topic.Value,
			Creator: c.Topic.Creator,
			LastSet: c.Topic.LastSet,
		},
		LastMessage: lastMessageDoc{
			Text:         c.LastMessage.Text,
			Date:         c.LastMessage.Date,
			Creator:      c.LastMessage.Creator,
			UserMentions: c.LastMessage.UserMentions,
		},
		NumOfMessage:       c.NumOfMessage,
		NumOfReadedMessage: c.NumOfReadedMessage,
		Version:            c.Version,
		Timestamps:         timestampsDoc{Creation: c.CreatedAt, Updated: c.UpdatedAt},
	}
	// nil slices and maps encode as null, which $addToSet and $max reject
	if doc.Members == nil {
		doc.Members = []string{}
	}
	if doc.LastMessage.UserMentions == nil {
		doc.LastMessage.UserMentions = []string{}
	}
	if doc.NumOfReadedMessage == nil {
		doc.NumOfReadedMessage = map[string]int64{}
	}
	return doc, nil
}

func (d conversationDoc) toModel() *model.Conversation {
	readed := d.NumOfReadedMessage
	if readed == nil {
		readed = map[string]int64{}
	}
	members := d.Members
	if members == nil {
		members = []string{}
	}
	return &model.Conversation{
		ID:          d.ID.Hex(),
		Type:        model.ConversationType(d.Type),
		Name:        d.Name,
		Avatar:      d.Avatar,
		Moderate:    d.Moderate,
		Members:     members,
		Creator:     d.Creator,
		CommunityID: d.CommunityID,
		Topic: model.Topic{
			Value:   d.Topic.Value,
			Creator: d.Topic.Creator,
			LastSet: d.Topic.LastSet,
		},
		LastMessage: model.LastMessage{
			Text:         d.LastMessage.Text,
			Date:         d.LastMessage.Date,
			Creator:      d.LastMessage.Creator,
			UserMentions: d.LastMessage.UserMentions,
		},
		NumOfMessage:       d.NumOfMessage,
		NumOfReadedMessage: readed,
		Version:            d.Version,
		CreatedAt:          d.Timestamps.Creation,
		UpdatedAt:          d.Timestamps.Updated,
	}
}

func toMessageDoc(m *model.Message) (messageDoc, error) {
	oid, err := bson.ObjectIDFromHex(m.ID)
	if err != nil {
		return messageDoc{}, err
	}
	mentions := m.UserMentions
	if mentions == nil {
		mentions = []string{}
	}
	return messageDoc{
		ID:           oid,
		Channel:      m.Channel,
		Creator:      m.Creator,
		Text:         m.Text,
		Type:         string(m.Type),
		UserMentions: mentions,
		Moderate:     m.Moderate,
		Timestamps:   timestampsDoc{Creation: m.CreatedAt},
	}, nil
}

func (d messageDoc) toModel() *model.Message {
	return &model.Message{
		ID:           d.ID.Hex(),
		Channel:      d.Channel,
		Creator:      d.Creator,
		Text:         d.Text,
		Type:         model.MessageType(d.Type),
		UserMentions: d.UserMentions,
		Moderate:     d.Moderate,
		CreatedAt:    d.Timestamps.Creation,
	}
}

func (d userDoc) toModel() model.User {
	return model.User{
		ID:        d.ID.Hex(),
		Username:  d.Username,
		Firstname: d.Firstname,
		Lastname:  d.Lastname,
		Avatar:    d.Avatar,
	}
}
