package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wavechat/chatkit/internal/api"
	"github.com/wavechat/chatkit/internal/transport"
	"github.com/wavechat/chatkit/internal/wire"
	"github.com/wavechat/chatkit/pkg/types"
)

type fakeREST struct {
	mu sync.Mutex

	conversations []types.Conversation
	listErr       error

	history    map[string][]types.Message
	historyErr error

	seenCalls    []string
	seenFailures int

	sent    []api.SendMessageRequest
	sendErr error

	created    []string
	addedPairs []string
}

func (f *fakeREST) ListConversations(_ context.Context, _ string) ([]types.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]types.Conversation, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeREST) GetOrCreatePrivate(_ context.Context, senderID, receiverID string) (*types.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, "private:"+senderID+":"+receiverID)
	return &types.Conversation{ID: "priv-1", Type: types.ConversationPrivate}, nil
}

func (f *fakeREST) CreateGroup(_ context.Context, name, createdBy string) (*types.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, "group:"+name+":"+createdBy)
	return &types.Conversation{ID: "grp-1", Type: types.ConversationGroup, Name: name}, nil
}

func (f *fakeREST) AddMember(_ context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedPairs = append(f.addedPairs, conversationID+":"+userID)
	return nil
}

func (f *fakeREST) GetMessages(_ context.Context, conversationID string, _, _ int) ([]types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[conversationID], nil
}

func (f *fakeREST) SendMessage(_ context.Context, req api.SendMessageRequest) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	content := req.Content
	return &types.Message{
		ID:             "ack-1",
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        &content,
		MessageType:    req.MessageType,
	}, nil
}

func (f *fakeREST) EditMessage(_ context.Context, messageID, newContent, conversationID string) (*types.Message, error) {
	return &types.Message{ID: messageID, ConversationID: conversationID, Content: &newContent, IsEdited: true}, nil
}

func (f *fakeREST) RecallMessage(_ context.Context, _, _ string) error { return nil }

func (f *fakeREST) MarkAllSeen(_ context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seenCalls = append(f.seenCalls, conversationID+":"+userID)
	if f.seenFailures > 0 {
		f.seenFailures--
		return errors.New("mark seen unavailable")
	}
	return nil
}

func (f *fakeREST) SearchMessages(_ context.Context, _, _ string, _, _ int) ([]types.Message, error) {
	return nil, nil
}

func (f *fakeREST) seenCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seenCalls)
}

type typingSent struct {
	conversationID string
	isTyping       bool
}

type fakeBroker struct {
	mu         sync.Mutex
	handlers   map[transport.Event][]transport.Handler
	msgSubs    []string
	typingSubs []string
	typing     []typingSent
	presence   []bool
	connectErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[transport.Event][]transport.Handler)}
}

func (b *fakeBroker) Connect(_ context.Context, _ string) error { return b.connectErr }
func (b *fakeBroker) Disconnect()                               {}

func (b *fakeBroker) On(event transport.Event, handler transport.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
	return func() {}
}

func (b *fakeBroker) SubscribeToMessages(conversationID, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgSubs = append(b.msgSubs, conversationID+":"+userID)
	return nil
}

func (b *fakeBroker) SubscribeToTyping(conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typingSubs = append(b.typingSubs, conversationID)
	return nil
}

func (b *fakeBroker) SendTyping(conversationID string, isTyping bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typing = append(b.typing, typingSent{conversationID, isTyping})
	return nil
}

func (b *fakeBroker) SendPresence(online bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence = append(b.presence, online)
	return nil
}

func (b *fakeBroker) presenceSent() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bool, len(b.presence))
	copy(out, b.presence)
	return out
}

func (b *fakeBroker) typingFrames() []typingSent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]typingSent, len(b.typing))
	copy(out, b.typing)
	return out
}

// emit pushes a broker event into every registered handler, like the real
// transport's read loop does.
func (b *fakeBroker) emit(event transport.Event, payload any) {
	b.mu.Lock()
	handlers := append([]transport.Handler(nil), b.handlers[event]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

// flush waits until every queued mirror update has been applied.
func flush(m *Mirror) {
	_, _ = m.dispatch.call(func() (any, error) { return nil, nil })
}

func newTestMirror(t *testing.T, rest *fakeREST, b *fakeBroker) *Mirror {
	t.Helper()
	if rest.history == nil {
		rest.history = map[string][]types.Message{}
	}
	m := NewMirror("viewer", "Viewer", rest, b)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)
	flush(m)
	return m
}

func twoConversations() []types.Conversation {
	return []types.Conversation{
		{ID: "c1", Type: types.ConversationPrivate, UnreadCount: 3},
		{ID: "c2", Type: types.ConversationGroup, Name: "team", UnreadCount: 5},
	}
}

func TestSelectConversation_ResetsOnlyTargetUnread(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	conversations := m.Conversations()
	require.Equal(t, 0, conversations[0].UnreadCount)
	require.Equal(t, 5, conversations[1].UnreadCount)

	active, phase := m.Active()
	require.Equal(t, "c1", active.ID)
	require.Equal(t, PhaseReady, phase)

	// Mark-all-seen fires in the background, but the local reset never
	// waited for it.
	require.Eventually(t, func() bool { return rest.seenCallCount() == 1 }, time.Second, 5*time.Millisecond)
	rest.mu.Lock()
	defer rest.mu.Unlock()
	require.Equal(t, []string{"c1:viewer"}, rest.seenCalls)
}

func TestSelectConversation_SubscribesMessagesAndTyping(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, []string{"c1:viewer"}, b.msgSubs)
	require.Equal(t, []string{"c1"}, b.typingSubs)
}

func TestSelectConversation_HistoryFailureYieldsEmptyReady(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations(), historyErr: errors.New("boom")}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	_, phase := m.Active()
	require.Equal(t, PhaseReady, phase)
	require.Empty(t, m.Messages())
}

func TestSelectConversation_MarkSeenFailureKeepsOptimisticReset(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations(), seenFailures: 1}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)
	m.seenRetryDelay = 5 * time.Millisecond

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	require.Equal(t, 0, m.Conversations()[0].UnreadCount)
	// One failed call plus one background retry, and still no rollback.
	require.Eventually(t, func() bool { return rest.seenCallCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, m.Conversations()[0].UnreadCount)
}

func TestBackgroundMessagesPush_UpdatesBookkeepingOnly(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{
		conversations: twoConversations(),
		history:       map[string][]types.Message{"c1": {{ID: "m1", ConversationID: "c1", SenderID: "peer"}}},
	}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)
	require.Len(t, m.Messages(), 1)

	content := "new in c2"
	now := time.Now()
	b.emit(transport.EventMessages, transport.MessagesEvent{
		ConversationID: "c2",
		Messages: []types.Message{
			{ID: "m2", ConversationID: "c2", SenderID: "peer", Content: &content, CreatedAt: now},
		},
	})
	flush(m)

	conversations := m.Conversations()
	require.Equal(t, "new in c2", conversations[1].LastMessage)
	require.Equal(t, now, conversations[1].LastMessageTime)
	require.Equal(t, 6, conversations[1].UnreadCount)

	// The displayed message list is still c1's.
	require.Len(t, m.Messages(), 1)
	require.Equal(t, "m1", m.Messages()[0].ID)
}

func TestBackgroundMessagesPush_OwnMessageDoesNotIncrementUnread(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	content := "sent from another device"
	b.emit(transport.EventMessages, transport.MessagesEvent{
		ConversationID: "c2",
		Messages:       []types.Message{{ID: "m2", ConversationID: "c2", SenderID: "viewer", Content: &content}},
	})
	flush(m)

	require.Equal(t, 5, m.Conversations()[1].UnreadCount)
	require.Equal(t, "sent from another device", m.Conversations()[1].LastMessage)
}

func TestActiveMessagesPush_ReplacesArrayAndKeepsUnreadZero(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	content := "hello"
	b.emit(transport.EventMessages, transport.MessagesEvent{
		ConversationID: "c1",
		Messages:       []types.Message{{ID: "m9", ConversationID: "c1", SenderID: "peer", Content: &content}},
	})
	flush(m)

	require.Len(t, m.Messages(), 1)
	require.Equal(t, "m9", m.Messages()[0].ID)
	require.Equal(t, 0, m.Conversations()[0].UnreadCount)
	require.Equal(t, "hello", m.Conversations()[0].LastMessage)
}

func TestConversationsPush_PreservesActiveZeroUnread(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	// A stale mark-all-seen makes the server still report unread=3.
	b.emit(transport.EventConversations, transport.ConversationsEvent(twoConversations()))
	flush(m)

	conversations := m.Conversations()
	require.Equal(t, 0, conversations[0].UnreadCount)
	require.Equal(t, 5, conversations[1].UnreadCount)
}

func TestTypingUsers_NeverIncludesViewer(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	b.emit(transport.EventTyping, wire.TypingEvent{ConversationID: "c1", UserID: "viewer", UserName: "Viewer", IsTyping: true})
	b.emit(transport.EventTyping, wire.TypingEvent{ConversationID: "c1", UserID: "peer", UserName: "Bob", IsTyping: true})
	flush(m)

	require.Equal(t, []TypingUser{{ID: "peer", Name: "Bob"}}, m.TypingUsers("c1"))

	b.emit(transport.EventTyping, wire.TypingEvent{ConversationID: "c1", UserID: "peer", IsTyping: false})
	flush(m)
	require.Empty(t, m.TypingUsers("c1"))
}

func TestTyping_SafetyTTLExpiresLostStops(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)
	m.peerTypingTTL = 20 * time.Millisecond

	b.emit(transport.EventTyping, wire.TypingEvent{ConversationID: "c1", UserID: "peer", UserName: "Bob", IsTyping: true})
	flush(m)
	require.Len(t, m.TypingUsers("c1"), 1)

	require.Eventually(t, func() bool { return len(m.TypingUsers("c1")) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSendTypingIndicator_NoopWhenIdleAndDebounced(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	// No conversation selected: nothing is published.
	m.SendTypingIndicator(true)
	require.Empty(t, b.typingFrames())

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	m.SendTypingIndicator(true)
	m.SendTypingIndicator(true)
	m.SendTypingIndicator(true)
	m.SendTypingIndicator(false)

	frames := b.typingFrames()
	require.Equal(t, []typingSent{
		{"c1", true},
		{"c1", false},
	}, frames)
}

func TestSendMessage_InjectsViewerAndActiveConversation(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	_, err := m.SendMessage(context.Background(), SendMessageInput{Content: "x"})
	require.ErrorIs(t, err, ErrNoActiveConversation)

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	ack, err := m.SendMessage(context.Background(), SendMessageInput{Content: "hello", MessageType: types.MessageText})
	require.NoError(t, err)
	require.Equal(t, "c1", ack.ConversationID)

	rest.mu.Lock()
	defer rest.mu.Unlock()
	require.Len(t, rest.sent, 1)
	require.Equal(t, "viewer", rest.sent[0].SenderID)
	require.Equal(t, "c1", rest.sent[0].ConversationID)

	// Echo model: the visible list does not change until the broker push.
	require.Empty(t, m.Messages())
}

func TestSendMessage_RESTFailurePropagates(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations(), sendErr: errors.New("network down")}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	require.NoError(t, m.SelectConversation(context.Background(), m.Conversations()[0]))
	flush(m)

	_, err := m.SendMessage(context.Background(), SendMessageInput{Content: "x"})
	require.ErrorContains(t, err, "network down")
}

func TestCreateConversation_GroupAddsMembersSequentially(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	conv, err := m.CreateConversation(context.Background(), types.ConversationGroup, []string{"u2", "u3"}, "squad")
	require.NoError(t, err)
	require.Equal(t, "grp-1", conv.ID)

	rest.mu.Lock()
	defer rest.mu.Unlock()
	require.Equal(t, []string{"group:squad:viewer"}, rest.created)
	require.Equal(t, []string{"grp-1:u2", "grp-1:u3"}, rest.addedPairs)
}

func TestCreateConversation_PrivateRequiresSingleParticipant(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	_, err := m.CreateConversation(context.Background(), types.ConversationPrivate, []string{"u2", "u3"}, "")
	require.Error(t, err)

	conv, err := m.CreateConversation(context.Background(), types.ConversationPrivate, []string{"u2"}, "")
	require.NoError(t, err)
	require.Equal(t, "priv-1", conv.ID)
}

func TestOnlineStatus_TracksGlobalSet(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	b.emit(transport.EventOnlineStatus, wire.PresenceEvent{UserID: "peer", IsOnline: true})
	flush(m)
	require.True(t, m.IsOnline("peer"))

	b.emit(transport.EventOnlineStatus, wire.PresenceEvent{UserID: "peer", IsOnline: false})
	flush(m)
	require.False(t, m.IsOnline("peer"))
}

func TestConnected_AnnouncesPresenceOnline(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	b.emit(transport.EventConnected, nil)
	flush(m)
	require.Equal(t, []bool{true}, b.presenceSent())
	require.True(t, m.Connection().Connected)

	// Every re-established connection announces again.
	b.emit(transport.EventConnected, nil)
	flush(m)
	require.Equal(t, []bool{true, true}, b.presenceSent())
}

func TestClose_StopsDispatchLoop(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	m.Close()
	require.ErrorIs(t, m.dispatch.do(func() {}), errDispatcherClosed)

	// Close is idempotent.
	m.Close()
}

func TestDisconnected_TerminalStateSurfaces(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{conversations: twoConversations()}
	b := newFakeBroker()
	m := newTestMirror(t, rest, b)

	b.emit(transport.EventDisconnected, transport.DisconnectedEvent{Reason: "reconnect attempts exhausted", Terminal: true})
	flush(m)

	state := m.Connection()
	require.False(t, state.Connected)
	require.True(t, state.Failed)
	require.Equal(t, "reconnect attempts exhausted", state.Reason)
}
