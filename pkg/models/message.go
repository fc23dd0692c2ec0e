package models

import "time"

// Message is a top-level post in a conversation. IDs are server-assigned
// and unique within a conversation; UpdatedDate is only set after the
// first successful edit.
type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversationId"`
	Author         Author          `json:"author"`
	Content        string          `json:"content"`
	CreationDate   time.Time       `json:"creationDate"`
	UpdatedDate    *time.Time      `json:"updatedDate,omitempty"`
	Reactions      []Reaction      `json:"reactions,omitempty"`
	Answers        []AnswerMessage `json:"answers,omitempty"`
}

// AnswerMessage is a threaded reply. It belongs to exactly one parent
// message and may mark that parent as resolved.
type AnswerMessage struct {
	ID           int64      `json:"id"`
	PostID       int64      `json:"postId"`
	Author       Author     `json:"author"`
	Content      string     `json:"content"`
	CreationDate time.Time  `json:"creationDate"`
	UpdatedDate  *time.Time `json:"updatedDate,omitempty"`
	Reactions    []Reaction `json:"reactions,omitempty"`
	ResolvesPost bool       `json:"resolvesPost"`
}

// Reaction is an emoji annotation owned by exactly one message or answer.
// Uniqueness of (author, emoji, target) is enforced by toggle semantics at
// the call site, not inside the model.
type Reaction struct {
	ID           int64     `json:"id"`
	EmojiID      string    `json:"emojiId"`
	Author       Author    `json:"author"`
	CreationDate time.Time `json:"creationDate"`
}

// Author is the minimal user reference carried on posts and reactions.
type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// ReactionBy reports whether the given user already reacted with emojiID
// and returns the matching reaction.
func (m *Message) ReactionBy(userID int64, emojiID string) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.Author.ID == userID && r.EmojiID == emojiID {
			return r, true
		}
	}
	return Reaction{}, false
}
