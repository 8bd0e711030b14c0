package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/chat-platform/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestApplyReadCountersUseMax(t *testing.T) {
	c := &model.Conversation{NumOfMessage: 4, NumOfReadedMessage: map[string]int64{"a": 3}}
	now := time.Now()

	Apply(c, ConversationUpdate{ReadCounters: map[string]int64{"a": 2, "b": 4}}, now)

	assert.Equal(t, int64(3), c.NumOfReadedMessage["a"])
	assert.Equal(t, int64(4), c.NumOfReadedMessage["b"])
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, now, c.UpdatedAt)
}

func TestApplyMembership(t *testing.T) {
	c := &model.Conversation{Members: []string{"a", "b"}, NumOfReadedMessage: map[string]int64{"b": 1}}

	Apply(c, ConversationUpdate{AddMembers: []string{"b", "c"}}, time.Now())
	assert.Equal(t, []string{"a", "b", "c"}, c.Members)

	Apply(c, ConversationUpdate{RemoveMembers: []string{"b"}, ClearReadCounters: []string{"b"}}, time.Now())
	assert.Equal(t, []string{"a", "c"}, c.Members)
	assert.NotContains(t, c.NumOfReadedMessage, "b")

	Apply(c, ConversationUpdate{Members: []string{"d", "d", "e"}}, time.Now())
	assert.Equal(t, []string{"d", "e"}, c.Members)
}

func TestApplyScalarFields(t *testing.T) {
	c := &model.Conversation{Name: ptr("old")}

	Apply(c, ConversationUpdate{
		Avatar:      ptr("pic"),
		Moderate:    ptr(true),
		Topic:       &model.Topic{Value: "t"},
		LastMessage: &model.LastMessage{Text: "hi", UserMentions: []string{"x"}},
		IncMessages: 1,
	}, time.Now())
	assert.Equal(t, "old", *c.Name)
	assert.Equal(t, "pic", c.Avatar)
	assert.True(t, c.Moderate)
	assert.Equal(t, "t", c.Topic.Value)
	assert.Equal(t, "hi", c.LastMessage.Text)
	assert.Equal(t, int64(1), c.NumOfMessage)

	Apply(c, ConversationUpdate{ClearName: true}, time.Now())
	assert.Nil(t, c.Name)
}

func TestUpdateEmpty(t *testing.T) {
	assert.True(t, ConversationUpdate{ExpectVersion: ptr(int64(1))}.Empty())
	assert.False(t, ConversationUpdate{IncMessages: 1}.Empty())
	assert.False(t, ConversationUpdate{Members: []string{}}.Empty())
}

func TestMatches(t *testing.T) {
	named := &model.Conversation{Type: model.TypeConfidential, Name: ptr("ops"), Members: []string{"a", "b"}}
	channel := &model.Conversation{Type: model.TypeOpen, Members: []string{"c"}}
	community := &model.Conversation{Type: model.TypeCommunity, CommunityID: "x", Members: []string{"a"}, Moderate: true}

	tests := []struct {
		name   string
		filter model.ConversationFilter
		want   []bool
	}{
		{"empty", model.ConversationFilter{}, []bool{true, true, true}},
		{"types", model.ConversationFilter{Types: []model.ConversationType{model.TypeOpen, model.TypeCommunity}}, []bool{false, true, true}},
		{"contains", model.ConversationFilter{Members: []string{"a"}}, []bool{true, false, true}},
		{"exact", model.ConversationFilter{Members: []string{"a"}, ExactMembersMatch: true}, []bool{false, false, true}},
		{"exact duplicates", model.ConversationFilter{Members: []string{"a", "b", "a"}, ExactMembersMatch: true}, []bool{true, false, false}},
		{"with channels", model.ConversationFilter{Members: []string{"b"}, IgnoreMemberFilterForChannel: true}, []bool{true, true, false}},
		{"moderate", model.ConversationFilter{Moderate: ptr(true)}, []bool{false, false, true}},
		{"name present", model.ConversationFilter{NameFilter: model.NamePresent}, []bool{true, false, false}},
		{"name absent", model.ConversationFilter{NameFilter: model.NameAbsent}, []bool{false, true, true}},
		{"name equals", model.ConversationFilter{NameFilter: model.NameEquals, Name: "ops"}, []bool{true, false, false}},
		{"community", model.ConversationFilter{CommunityID: "x"}, []bool{false, false, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []bool{Matches(named, tt.filter), Matches(channel, tt.filter), Matches(community, tt.filter)}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortByLastMessage(t *testing.T) {
	now := time.Now()
	convs := []*model.Conversation{
		{ID: "old", LastMessage: model.LastMessage{Date: now.Add(-time.Hour)}},
		{ID: "new", LastMessage: model.LastMessage{Date: now}},
		{ID: "mid", LastMessage: model.LastMessage{Date: now.Add(-time.Minute)}},
	}
	SortByLastMessage(convs)
	assert.Equal(t, "new", convs[0].ID)
	assert.Equal(t, "mid", convs[1].ID)
	assert.Equal(t, "old", convs[2].ID)
}
