package chat

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wavechat/chatkit/internal/transport"
	"github.com/wavechat/chatkit/internal/wire"
	"github.com/wavechat/chatkit/pkg/types"
)

// onConversations replaces the conversation list wholesale. The locally
// zeroed unread counter of the open conversation survives the replacement so
// a slow mark-all-seen cannot resurrect a stale badge.
func (m *Mirror) onConversations(payload any) {
	ev, ok := payload.(transport.ConversationsEvent)
	if !ok {
		return
	}
	_ = m.dispatch.do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		conversations := []types.Conversation(ev)
		if m.active != nil {
			for i := range conversations {
				if conversations[i].ID == m.active.ID {
					conversations[i].UnreadCount = 0
				}
			}
		}
		m.conversations = conversations
	})
}

// onMessages applies a full message array push. Only the active
// conversation's visible array is replaced; for background conversations the
// push updates list bookkeeping (preview fields and the unread counter).
func (m *Mirror) onMessages(payload any) {
	ev, ok := payload.(transport.MessagesEvent)
	if !ok {
		return
	}
	_ = m.dispatch.do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		var last *types.Message
		if len(ev.Messages) > 0 {
			last = &ev.Messages[len(ev.Messages)-1]
		}

		isActive := m.active != nil && m.active.ID == ev.ConversationID
		if isActive {
			m.messages = ev.Messages
		}

		for i := range m.conversations {
			if m.conversations[i].ID != ev.ConversationID {
				continue
			}
			if last != nil {
				m.conversations[i].LastMessage = previewOf(last)
				m.conversations[i].LastMessageTime = last.CreatedAt
			}
			if !isActive && last != nil && last.SenderID != m.viewerID {
				m.conversations[i].UnreadCount++
			}
			break
		}
	})
}

// previewOf renders the denormalized lastMessage field for a push.
func previewOf(msg *types.Message) string {
	if content := msg.DisplayContent(); content != "" {
		return content
	}
	if len(msg.Attachments) > 0 {
		return "[attachment]"
	}
	return ""
}

// onTyping maintains the per-conversation typing sets. The viewer's own
// echo is ignored; each entry carries a safety TTL in case the peer's stop
// signal is lost.
func (m *Mirror) onTyping(payload any) {
	ev, ok := payload.(wire.TypingEvent)
	if !ok || ev.UserID == m.viewerID {
		return
	}
	_ = m.dispatch.do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		entries := m.peerTyping[ev.ConversationID]
		if !ev.IsTyping {
			if entry, ok := entries[ev.UserID]; ok {
				entry.timer.Stop()
				delete(entries, ev.UserID)
			}
			return
		}

		if entries == nil {
			entries = make(map[string]*typingEntry)
			m.peerTyping[ev.ConversationID] = entries
		}
		if existing, ok := entries[ev.UserID]; ok {
			existing.name = ev.UserName
			existing.timer.Reset(m.peerTypingTTL)
			return
		}
		entry := &typingEntry{name: ev.UserName}
		entry.timer = time.AfterFunc(m.peerTypingTTL, func() {
			m.expireTyping(ev.ConversationID, ev.UserID, entry)
		})
		entries[ev.UserID] = entry
	})
}

// expireTyping removes a typing entry whose TTL lapsed without a refresh.
func (m *Mirror) expireTyping(conversationID, userID string, entry *typingEntry) {
	_ = m.dispatch.do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.peerTyping[conversationID][userID]; ok && current == entry {
			delete(m.peerTyping[conversationID], userID)
		}
	})
}

// onOnlineStatus updates the global online-user set.
func (m *Mirror) onOnlineStatus(payload any) {
	ev, ok := payload.(wire.PresenceEvent)
	if !ok {
		return
	}
	_ = m.dispatch.do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ev.IsOnline {
			m.online[ev.UserID] = struct{}{}
		} else {
			delete(m.online, ev.UserID)
		}
	})
}

// onConnected also covers reconnects, so peers relearn this user is online
// after every re-established session.
func (m *Mirror) onConnected(any) {
	if err := m.broker.SendPresence(true); err != nil {
		log.Debug().Err(err).Msg("presence announce not sent")
	}
	_ = m.dispatch.do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.conn = ConnectionState{Connected: true}
	})
}

func (m *Mirror) onDisconnected(payload any) {
	ev, ok := payload.(transport.DisconnectedEvent)
	if !ok {
		return
	}
	_ = m.dispatch.do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.conn = ConnectionState{Connected: false, Failed: ev.Terminal, Reason: ev.Reason}
	})
}
