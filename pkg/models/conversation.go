package models

import "fmt"

// ConversationType is the closed set of conversation variants. Servers may
// introduce new variants; anything unrecognized decodes as
// ConversationUnknown rather than failing the whole payload.
type ConversationType string

const (
	ConversationChannel  ConversationType = "channel"
	ConversationGroup    ConversationType = "groupChat"
	ConversationOneToOne ConversationType = "oneToOneChat"
	ConversationUnknown  ConversationType = "unknown"
)

// Normalize maps unrecognized type strings to ConversationUnknown so
// callers can switch exhaustively over the four variants.
func (t ConversationType) Normalize() ConversationType {
	switch t {
	case ConversationChannel, ConversationGroup, ConversationOneToOne:
		return t
	default:
		return ConversationUnknown
	}
}

// Conversation is the client's read-mostly copy of a channel, group chat
// or one-to-one chat. It is created server-side and refreshed on demand.
type Conversation struct {
	ID          int64            `json:"id"`
	Type        ConversationType `json:"type"`
	Name        string           `json:"name,omitempty"`
	Members     []Author         `json:"members,omitempty"`
	IsFavorite  bool             `json:"isFavorite"`
	IsHidden    bool             `json:"isHidden"`
	IsMuted     bool             `json:"isMuted"`
	UnreadCount int64            `json:"unreadMessagesCount"`
}

// DisplayName returns a human-readable label for the conversation. For
// one-to-one chats with no server-provided name the partner's name is
// used when available.
func (c Conversation) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	switch c.Type.Normalize() {
	case ConversationChannel:
		return fmt.Sprintf("channel-%d", c.ID)
	case ConversationGroup:
		return fmt.Sprintf("group-%d", c.ID)
	case ConversationOneToOne:
		if len(c.Members) > 0 && c.Members[0].Name != "" {
			return c.Members[0].Name
		}
		return fmt.Sprintf("chat-%d", c.ID)
	case ConversationUnknown:
		return fmt.Sprintf("conversation-%d", c.ID)
	}
	return fmt.Sprintf("conversation-%d", c.ID)
}
