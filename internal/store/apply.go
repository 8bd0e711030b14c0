package store

import (
	"sort"
	"time"

	"github.com/capitalize-ai/chat-platform/internal/model"
)

// Apply performs u on c in place, following the semantics of the matching
// MongoDB update operators. It is used by the in-memory store and by tests.
func Apply(c *model.Conversation, u ConversationUpdate, now time.Time) {
	if u.Name != nil {
		name := *u.Name
		c.Name = &name
	} else if u.ClearName {
		c.Name = nil
	}
	if u.Avatar != nil {
		c.Avatar = *u.Avatar
	}
	if u.Moderate != nil {
		c.Moderate = *u.Moderate
	}
	if u.Topic != nil {
		c.Topic = *u.Topic
	}
	if u.LastMessage != nil {
		lm := *u.LastMessage
		lm.UserMentions = append([]string{}, lm.UserMentions...)
		c.LastMessage = lm
	}
	if u.Members != nil {
		c.Members = model.Unique(u.Members)
	}
	c.NumOfMessage += u.IncMessages

	if len(u.AddMembers) > 0 {
		c.Members = model.Unique(append(c.Members, u.AddMembers...))
	}
	if len(u.RemoveMembers) > 0 {
		c.Members = without(c.Members, u.RemoveMembers)
	}

	if c.NumOfReadedMessage == nil {
		c.NumOfReadedMessage = make(map[string]int64)
	}
	for user, n := range u.ReadCounters {
		if cur, ok := c.NumOfReadedMessage[user]; !ok || n > cur {
			c.NumOfReadedMessage[user] = n
		}
	}
	for _, user := range u.ClearReadCounters {
		delete(c.NumOfReadedMessage, user)
	}

	c.Version++
	c.UpdatedAt = now
}

// Matches reports whether c satisfies f. Filters are assumed validated.
func Matches(c *model.Conversation, f model.ConversationFilter) bool {
	if len(f.Types) > 0 && !containsType(f.Types, c.Type) {
		return false
	}
	if f.Moderate != nil && c.Moderate != *f.Moderate {
		return false
	}
	switch f.NameFilter {
	case model.NamePresent:
		if c.Name == nil {
			return false
		}
	case model.NameAbsent:
		if c.Name != nil {
			return false
		}
	case model.NameEquals:
		if c.Name == nil || *c.Name != f.Name {
			return false
		}
	}
	if f.CommunityID != "" && c.CommunityID != f.CommunityID {
		return false
	}
	if len(f.Members) == 0 {
		return true
	}
	if membersMatch(c.Members, f.Members, f.ExactMembersMatch) {
		return true
	}
	return f.IgnoreMemberFilterForChannel && c.Type == model.TypeOpen
}

// SortByLastMessage orders conversations by most recent message first.
func SortByLastMessage(convs []*model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessage.Date.After(convs[j].LastMessage.Date)
	})
}

func membersMatch(have, want []string, exact bool) bool {
	set := make(map[string]struct{}, len(have))
	for _, m := range have {
		set[m] = struct{}{}
	}
	want = model.Unique(want)
	for _, m := range want {
		if _, ok := set[m]; !ok {
			return false
		}
	}
	return !exact || len(set) == len(want)
}

func containsType(types []model.ConversationType, t model.ConversationType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func without(ids, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
