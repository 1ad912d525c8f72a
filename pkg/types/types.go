package types

import "time"

// ConversationType distinguishes one-to-one chats from named groups.
type ConversationType string

const (
	ConversationPrivate ConversationType = "PRIVATE"
	ConversationGroup   ConversationType = "GROUP"
)

// MessageType identifies the primary content kind of a message.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageVideo MessageType = "VIDEO"
	MessageAudio MessageType = "AUDIO"
	MessageFile  MessageType = "FILE"
)

// UserSummary is the denormalized member view embedded in conversations.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Conversation is a private or group chat as the server projects it for one
// viewer. LastMessage/LastMessageTime/UnreadCount are denormalized preview
// fields maintained per viewer.
type Conversation struct {
	ID              string           `json:"id"`
	Type            ConversationType `json:"type"`
	Name            string           `json:"name,omitempty"`
	Members         []UserSummary    `json:"members"`
	LastMessage     string           `json:"lastMessage,omitempty"`
	LastMessageTime time.Time        `json:"lastMessageTime,omitzero"`
	UnreadCount     int              `json:"unreadCount"`
}

// PeerOf returns the other member of a private conversation. For groups or
// malformed member lists it returns false.
func (c *Conversation) PeerOf(viewerID string) (UserSummary, bool) {
	if c.Type != ConversationPrivate {
		return UserSummary{}, false
	}
	for _, m := range c.Members {
		if m.ID != viewerID {
			return m, true
		}
	}
	return UserSummary{}, false
}

// Title is the human-readable conversation name: the group name, or the
// peer's display name for private chats.
func (c *Conversation) Title(viewerID string) string {
	if c.Type == ConversationGroup {
		return c.Name
	}
	if peer, ok := c.PeerOf(viewerID); ok {
		return peer.DisplayName
	}
	return c.Name
}

// Attachment is an uploaded file referenced by a message.
type Attachment struct {
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

// ReplySnippet is the denormalized preview of a replied-to message.
type ReplySnippet struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Content    string `json:"content,omitempty"`
}

// Message belongs to exactly one conversation. Content may be nil for
// attachment-only messages. A recalled message keeps its id and position but
// acts as a tombstone: its content must never be rendered.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        *string       `json:"content,omitempty"`
	MessageType    MessageType   `json:"messageType"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	IsEdited       bool          `json:"isEdited"`
	IsRecalled     bool          `json:"isRecalled"`
	ReplyTo        *ReplySnippet `json:"replyTo,omitempty"`
}

// DisplayContent returns the text to render for this message. Recalled
// messages always render empty regardless of the stored content.
func (m *Message) DisplayContent() string {
	if m.IsRecalled {
		return ""
	}
	if m.Content == nil {
		return ""
	}
	return *m.Content
}
