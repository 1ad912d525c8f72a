package transport

import "github.com/wavechat/chatkit/pkg/types"

// ConversationsEvent is the payload of EventConversations: the viewer's full
// conversation list as the broker pushed it.
type ConversationsEvent []types.Conversation

// MessagesEvent is the payload of EventMessages: the full message array of
// one conversation. Pushes are whole-array replacements, never patches.
type MessagesEvent struct {
	ConversationID string
	Messages       []types.Message
}

// DisconnectedEvent is the payload of EventDisconnected. Terminal means the
// automatic reconnect budget is exhausted and the session must be
// re-established with an explicit Connect call.
type DisconnectedEvent struct {
	Reason   string
	Terminal bool
}
