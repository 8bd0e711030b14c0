package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/store"
)

// conversationFilter translates a validated filter into a MongoDB query.
func conversationFilter(f model.ConversationFilter) bson.M {
	and := bson.A{}

	switch len(f.Types) {
	case 0:
	case 1:
		and = append(and, bson.M{"type": string(f.Types[0])})
	default:
		types := make(bson.A, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		and = append(and, bson.M{"type": bson.M{"$in": types}})
	}

	if f.Moderate != nil {
		and = append(and, bson.M{"moderate": *f.Moderate})
	}

	switch f.NameFilter {
	case model.NamePresent:
		and = append(and, bson.M{"name": bson.M{"$ne": nil}})
	case model.NameAbsent:
		and = append(and, bson.M{"name": nil})
	case model.NameEquals:
		and = append(and, bson.M{"name": f.Name})
	}

	if f.CommunityID != "" {
		and = append(and, bson.M{"community": f.CommunityID})
	}

	if members := model.Unique(f.Members); len(members) > 0 {
		cond := bson.M{"$all": members}
		if f.ExactMembersMatch {
			cond["$size"] = len(members)
		}
		memberFilter := bson.M{"members": cond}
		if f.IgnoreMemberFilterForChannel {
			and = append(and, bson.M{"$or": bson.A{memberFilter, bson.M{"type": string(model.TypeOpen)}}})
		} else {
			and = append(and, memberFilter)
		}
	}

	if len(and) == 0 {
		return bson.M{}
	}
	return bson.M{"$and": and}
}

// conversationUpdate translates u into update operators. Callers never mix
// Members with AddMembers/RemoveMembers, which MongoDB rejects as a conflict.
func conversationUpdate(u store.ConversationUpdate, now time.Time) bson.M {
	set := bson.M{"timestamps.updated": now}
	if u.Name != nil {
		set["name"] = *u.Name
	} else if u.ClearName {
		set["name"] = nil
	}
	if u.Avatar != nil {
		set["avatar"] = *u.Avatar
	}
	if u.Moderate != nil {
		set["moderate"] = *u.Moderate
	}
	if u.Topic != nil {
		set["topic"] = topicDoc{Value: u.Topic.Value, Creator: u.Topic.Creator, LastSet: u.Topic.LastSet}
	}
	if u.LastMessage != nil {
		mentions := u.LastMessage.UserMentions
		if mentions == nil {
			mentions = []string{}
		}
		set["last_message"] = lastMessageDoc{
			Text:         u.LastMessage.Text,
			Date:         u.LastMessage.Date,
			Creator:      u.LastMessage.Creator,
			UserMentions: mentions,
		}
	}
	if u.Members != nil {
		set["members"] = model.Unique(u.Members)
	}

	inc := bson.M{"version": 1}
	if u.IncMessages != 0 {
		inc["numOfMessage"] = u.IncMessages
	}

	update := bson.M{"$set": set, "$inc": inc}
	if len(u.AddMembers) > 0 {
		update["$addToSet"] = bson.M{"members": bson.M{"$each": u.AddMembers}}
	}
	if len(u.RemoveMembers) > 0 {
		update["$pullAll"] = bson.M{"members": u.RemoveMembers}
	}
	if len(u.ReadCounters) > 0 {
		maxes := bson.M{}
		for user, n := range u.ReadCounters {
			maxes["numOfReadedMessage."+user] = n
		}
		update["$max"] = maxes
	}
	if len(u.ClearReadCounters) > 0 {
		unset := bson.M{}
		for _, user := range u.ClearReadCounters {
			unset["numOfReadedMessage."+user] = ""
		}
		update["$unset"] = unset
	}
	return update
}

// channelUpsert builds the insert-once write for a default channel. The
// default_channel marker is unique per moderation flag.
func channelUpsert(doc conversationDoc) (filter, update bson.M) {
	marker := "plain"
	if doc.Moderate {
		marker = "moderated"
	}
	filter = bson.M{"default_channel": marker}
	update = bson.M{"$setOnInsert": bson.M{
		"_id":                doc.ID,
		"type":               string(model.TypeOpen),
		"name":               doc.Name,
		"avatar":             doc.Avatar,
		"moderate":           doc.Moderate,
		"members":            doc.Members,
		"creator":            doc.Creator,
		"topic":              doc.Topic,
		"last_message":       doc.LastMessage,
		"numOfMessage":       doc.NumOfMessage,
		"numOfReadedMessage": doc.NumOfReadedMessage,
		"version":            doc.Version,
		"timestamps":         doc.Timestamps,
	}}
	return filter, update
}
