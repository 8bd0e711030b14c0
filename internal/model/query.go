package model

// NameFilter selects conversations by name.
type NameFilter int

const (
	// NameAny does not filter by name.
	NameAny NameFilter = iota
	// NamePresent keeps conversations that have a name.
	NamePresent
	// NameAbsent keeps conversations whose name is null.
	NameAbsent
	// NameEquals keeps conversations whose name equals ConversationFilter.Name.
	NameEquals
)

// ConversationFilter is the query accepted by FindConversation.
type ConversationFilter struct {
	Types []ConversationType `json:"types,omitempty"`

	Members []string `json:"members,omitempty"`
	// ExactMembersMatch requires the member set to equal Members instead of containing it.
	ExactMembersMatch bool `json:"exactMembersMatch,omitempty"`
	// IgnoreMemberFilterForChannel also returns every open conversation.
	IgnoreMemberFilterForChannel bool `json:"ignoreMemberFilterForChannel,omitempty"`

	Moderate *bool `json:"moderate,omitempty"`

	NameFilter NameFilter `json:"nameFilter,omitempty"`
	Name       string     `json:"name,omitempty"`

	CommunityID string `json:"community,omitempty"`
}

// ListOptions paginates listings.
type ListOptions struct {
	Limit   int    `json:"limit,omitempty"`
	Offset  *int   `json:"offset,omitempty"`
	Creator string `json:"creator,omitempty"`
}

// Skip returns the offset, zero when unset.
func (o ListOptions) Skip() int {
	if o.Offset == nil {
		return 0
	}
	return *o.Offset
}

// ChannelOptions is the query accepted by GetChannels.
type ChannelOptions struct {
	Moderate bool `json:"moderate"`
}

// MessageQuery paginates the messages of one conversation.
type MessageQuery struct {
	Limit            int  `json:"limit,omitempty"`
	Offset           *int `json:"offset,omitempty"`
	IncludeModerated bool `json:"includeModerated,omitempty"`
}

// Page is a paginated listing.
type Page[T any] struct {
	TotalCount int64 `json:"total_count"`
	List       []T   `json:"list"`
}
