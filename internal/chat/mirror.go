package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wavechat/chatkit/internal/api"
	"github.com/wavechat/chatkit/internal/transport"
	"github.com/wavechat/chatkit/pkg/types"
)

const (
	// historyPageSize is the page requested when opening a conversation.
	historyPageSize = 50
	// peerTypingTTL clears a peer's typing entry when their stop signal was
	// lost. The broker remains the source of truth; this is only a safety net.
	peerTypingTTL = 5 * time.Second
	// seenRetryDelay spaces the single background retry of mark-all-seen.
	seenRetryDelay = 2 * time.Second
)

// ErrNoActiveConversation is returned by message commands when no
// conversation is selected.
var ErrNoActiveConversation = errors.New("no active conversation")

// Phase is the conversation-open lifecycle state.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseLoading Phase = "LOADING"
	PhaseReady   Phase = "READY"
)

// restAPI is the REST collaborator surface the mirror uses. *api.Client
// implements it; tests substitute a fake.
type restAPI interface {
	ListConversations(ctx context.Context, userID string) ([]types.Conversation, error)
	GetOrCreatePrivate(ctx context.Context, senderID, receiverID string) (*types.Conversation, error)
	CreateGroup(ctx context.Context, name, createdBy string) (*types.Conversation, error)
	AddMember(ctx context.Context, conversationID, userID string) error
	GetMessages(ctx context.Context, conversationID string, page, size int) ([]types.Message, error)
	SendMessage(ctx context.Context, req api.SendMessageRequest) (*types.Message, error)
	EditMessage(ctx context.Context, messageID, newContent, conversationID string) (*types.Message, error)
	RecallMessage(ctx context.Context, messageID, userID string) error
	MarkAllSeen(ctx context.Context, conversationID, userID string) error
	SearchMessages(ctx context.Context, conversationID, keyword string, page, size int) ([]types.Message, error)
}

// broker is the transport surface the mirror uses. *transport.Client
// implements it; tests substitute a fake.
type broker interface {
	Connect(ctx context.Context, userID string) error
	Disconnect()
	On(event transport.Event, handler transport.Handler) func()
	SubscribeToMessages(conversationID, userID string) error
	SubscribeToTyping(conversationID string) error
	SendTyping(conversationID string, isTyping bool) error
	SendPresence(online bool) error
}

// TypingUser is one peer currently typing in a conversation.
type TypingUser struct {
	ID   string
	Name string
}

type typingEntry struct {
	name  string
	timer *time.Timer
}

// ConnectionState reflects the transport as the mirror last saw it.
type ConnectionState struct {
	Connected bool
	// Failed is set when the transport gave up reconnecting; the session
	// must be re-established explicitly.
	Failed bool
	Reason string
}

// Mirror is the single source of UI-visible messaging state. It reacts to
// transport events and explicit commands; downstream readers never mutate it.
type Mirror struct {
	viewerID   string
	viewerName string
	rest       restAPI
	broker     broker

	dispatch *dispatcher
	typing   *typingDebouncer

	seenRetryDelay time.Duration
	peerTypingTTL  time.Duration

	mu            sync.RWMutex
	conversations []types.Conversation
	active        *types.Conversation
	phase         Phase
	messages      []types.Message
	peerTyping    map[string]map[string]*typingEntry
	online        map[string]struct{}
	conn          ConnectionState

	offs []func()
}

// NewMirror creates a mirror for one authenticated viewer.
func NewMirror(viewerID, viewerName string, rest restAPI, b broker) *Mirror {
	m := &Mirror{
		viewerID:       viewerID,
		viewerName:     viewerName,
		rest:           rest,
		broker:         b,
		dispatch:       newDispatcher(256),
		phase:          PhaseIdle,
		peerTyping:     make(map[string]map[string]*typingEntry),
		online:         make(map[string]struct{}),
		seenRetryDelay: seenRetryDelay,
		peerTypingTTL:  peerTypingTTL,
	}
	m.typing = newTypingDebouncer(typingIdleTimeout, b.SendTyping)
	return m
}

// Start wires the broker events, connects, and loads the initial
// conversations snapshot. Snapshot failure degrades to an empty list rather
// than failing the session; a connect failure is returned to the caller.
func (m *Mirror) Start(ctx context.Context) error {
	m.offs = append(m.offs,
		m.broker.On(transport.EventConversations, m.onConversations),
		m.broker.On(transport.EventMessages, m.onMessages),
		m.broker.On(transport.EventTyping, m.onTyping),
		m.broker.On(transport.EventOnlineStatus, m.onOnlineStatus),
		m.broker.On(transport.EventConnected, m.onConnected),
		m.broker.On(transport.EventDisconnected, m.onDisconnected),
	)

	if err := m.broker.Connect(ctx, m.viewerID); err != nil {
		return err
	}

	conversations, err := m.rest.ListConversations(ctx, m.viewerID)
	if err != nil {
		log.Warn().Err(err).Msg("initial conversation load failed")
		conversations = nil
	}
	_ = m.dispatch.do(func() {
		m.mu.Lock()
		m.conversations = conversations
		m.mu.Unlock()
	})
	return nil
}

// Close cancels typing, detaches from the broker, disconnects and stops the
// dispatch goroutine. Safe to call more than once.
func (m *Mirror) Close() {
	m.typing.Cancel(false)
	for _, off := range m.offs {
		off()
	}
	m.offs = nil
	m.broker.Disconnect()
	m.dispatch.close()
}

// SelectConversation opens a conversation: IDLE/READY -> LOADING -> READY.
// The unread counter is reset optimistically before mark-all-seen completes,
// and a failed history fetch resolves to READY with no messages.
func (m *Mirror) SelectConversation(ctx context.Context, conv types.Conversation) error {
	m.typing.Cancel(true)

	_, _ = m.dispatch.call(func() (any, error) {
		m.mu.Lock()
		selected := conv
		selected.UnreadCount = 0
		m.active = &selected
		m.phase = PhaseLoading
		m.messages = nil
		for i := range m.conversations {
			if m.conversations[i].ID == conv.ID {
				m.conversations[i].UnreadCount = 0
			}
		}
		m.mu.Unlock()
		return nil, nil
	})

	if err := m.broker.SubscribeToMessages(conv.ID, m.viewerID); err != nil {
		log.Warn().Err(err).Str("conversation", conv.ID).Msg("message subscription failed")
	}
	if err := m.broker.SubscribeToTyping(conv.ID); err != nil {
		log.Warn().Err(err).Str("conversation", conv.ID).Msg("typing subscription failed")
	}

	go m.markSeenWithRetry(conv.ID)

	history, err := m.rest.GetMessages(ctx, conv.ID, 0, historyPageSize)
	if err != nil {
		log.Warn().Err(err).Str("conversation", conv.ID).Msg("history fetch failed")
		history = nil
	}

	_, _ = m.dispatch.call(func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		// A competing select may have replaced the active conversation while
		// the fetch was in flight; drop the stale response.
		if m.active == nil || m.active.ID != conv.ID {
			return nil, nil
		}
		m.messages = history
		m.phase = PhaseReady
		return nil, nil
	})
	return nil
}

// markSeenWithRetry keeps the optimistic unread reset regardless of the REST
// outcome: one background retry, never a rollback.
func (m *Mirror) markSeenWithRetry(conversationID string) {
	ctx := context.Background()
	err := m.rest.MarkAllSeen(ctx, conversationID, m.viewerID)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("conversation", conversationID).Msg("mark-all-seen failed, retrying")
	time.Sleep(m.seenRetryDelay)
	if err := m.rest.MarkAllSeen(ctx, conversationID, m.viewerID); err != nil {
		log.Warn().Err(err).Str("conversation", conversationID).Msg("mark-all-seen retry failed")
	}
}

// SendMessageInput is the user-facing send command. ConversationID defaults
// to the active conversation.
type SendMessageInput struct {
	ConversationID string
	Content        string
	MessageType    types.MessageType
	ReplyToID      string
	Files          []api.FileUpload
}

// SendMessage posts the message over REST with the viewer as sender. The
// acknowledged message is returned, but the visible list is updated by the
// broker echo, not by this return value. REST failures propagate to the
// caller so the input can be restored.
func (m *Mirror) SendMessage(ctx context.Context, input SendMessageInput) (*types.Message, error) {
	conversationID := input.ConversationID
	if conversationID == "" {
		active, _ := m.Active()
		if active == nil {
			return nil, ErrNoActiveConversation
		}
		conversationID = active.ID
	}
	m.typing.Cancel(true)
	return m.rest.SendMessage(ctx, api.SendMessageRequest{
		SenderID:       m.viewerID,
		ConversationID: conversationID,
		MessageType:    input.MessageType,
		Content:        input.Content,
		ReplyToID:      input.ReplyToID,
		Files:          input.Files,
	})
}

// EditMessage rewrites a message's content; the visible array updates via
// the broker echo.
func (m *Mirror) EditMessage(ctx context.Context, messageID, content string) (*types.Message, error) {
	active, _ := m.Active()
	if active == nil {
		return nil, ErrNoActiveConversation
	}
	return m.rest.EditMessage(ctx, messageID, content, active.ID)
}

// RecallMessage tombstones a message; the visible array updates via the
// broker echo.
func (m *Mirror) RecallMessage(ctx context.Context, messageID string) error {
	active, _ := m.Active()
	if active == nil {
		return ErrNoActiveConversation
	}
	return m.rest.RecallMessage(ctx, messageID, m.viewerID)
}

// SendTypingIndicator publishes the viewer's typing state for the active
// conversation, debounced to one start frame per quiet window. No-op when
// nothing is selected.
func (m *Mirror) SendTypingIndicator(isTyping bool) {
	active, _ := m.Active()
	if active == nil {
		return
	}
	m.typing.Typing(active.ID, isTyping)
}

// CreateConversation creates (or fetches) a conversation. PRIVATE requires
// exactly one participant; GROUP creates the group then adds each
// participant sequentially, and reloads the conversation list.
func (m *Mirror) CreateConversation(ctx context.Context, convType types.ConversationType, participants []string, name string) (*types.Conversation, error) {
	var (
		conv *types.Conversation
		err  error
	)
	switch convType {
	case types.ConversationPrivate:
		if len(participants) != 1 {
			return nil, errors.New("private conversation requires exactly one participant")
		}
		conv, err = m.rest.GetOrCreatePrivate(ctx, m.viewerID, participants[0])
	case types.ConversationGroup:
		conv, err = m.rest.CreateGroup(ctx, name, m.viewerID)
		if err == nil {
			for _, participant := range participants {
				if addErr := m.rest.AddMember(ctx, conv.ID, participant); addErr != nil {
					return nil, addErr
				}
			}
		}
	default:
		return nil, errors.New("unknown conversation type")
	}
	if err != nil {
		return nil, err
	}

	conversations, listErr := m.rest.ListConversations(ctx, m.viewerID)
	if listErr != nil {
		log.Warn().Err(listErr).Msg("conversation reload failed")
	} else {
		_, _ = m.dispatch.call(func() (any, error) {
			m.mu.Lock()
			m.conversations = conversations
			m.mu.Unlock()
			return nil, nil
		})
	}
	return conv, nil
}

// SearchMessages runs a keyword search in the given conversation.
func (m *Mirror) SearchMessages(ctx context.Context, conversationID, keyword string, page, size int) ([]types.Message, error) {
	return m.rest.SearchMessages(ctx, conversationID, keyword, page, size)
}

// ViewerID is the authenticated user this mirror belongs to.
func (m *Mirror) ViewerID() string {
	return m.viewerID
}

// Conversations returns a copy of the conversation list.
func (m *Mirror) Conversations() []types.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Conversation, len(m.conversations))
	copy(out, m.conversations)
	return out
}

// Active returns a copy of the selected conversation (nil when idle) and the
// open-lifecycle phase.
func (m *Mirror) Active() (*types.Conversation, Phase) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return nil, m.phase
	}
	active := *m.active
	return &active, m.phase
}

// Messages returns a copy of the active conversation's message array.
func (m *Mirror) Messages() []types.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// TypingUsers lists peers typing in a conversation, never including the
// viewer, sorted by display name for stable rendering.
func (m *Mirror) TypingUsers(conversationID string) []TypingUser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.peerTyping[conversationID]
	out := make([]TypingUser, 0, len(entries))
	for id, entry := range entries {
		if id == m.viewerID {
			continue
		}
		out = append(out, TypingUser{ID: id, Name: entry.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsOnline reports whether a user is in the online set.
func (m *Mirror) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.online[userID]
	return ok
}

// Connection returns the transport state as last observed.
func (m *Mirror) Connection() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}
