package wire

import "fmt"

// Subscription topics pushed by the broker.
func ConversationsTopic(userID string) string {
	return fmt.Sprintf("topic/conversations/%s", userID)
}

func MessagesTopic(conversationID, userID string) string {
	return fmt.Sprintf("topic/messages/%s/%s", conversationID, userID)
}

func TypingTopic(conversationID string) string {
	return fmt.Sprintf("topic/typing/%s", conversationID)
}

func OnlineStatusTopic() string {
	return "topic/online-status"
}

// Application destinations the client publishes to.
const (
	TypingDestination       = "app/typing"
	OnlineStatusDestination = "app/online-status"
)

// ConnectBody is the CONNECT frame payload.
type ConnectBody struct {
	UserID string `json:"userId"`
}

// TypingEvent is pushed on a typing topic and published to TypingDestination.
// UserName is only present on broker pushes.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// PresenceEvent is pushed on the online-status topic and published to
// OnlineStatusDestination.
type PresenceEvent struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}
