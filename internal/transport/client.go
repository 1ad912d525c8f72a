package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wavechat/chatkit/internal/wire"
	"github.com/wavechat/chatkit/pkg/types"
)

const (
	// handshakeTimeout bounds the dial plus CONNECT/CONNECTED exchange.
	handshakeTimeout = 10 * time.Second
	// defaultReconnectAttempts is the automatic reconnect budget. After it
	// is exhausted the session is failed until an explicit Connect call.
	defaultReconnectAttempts = 5
	// defaultReconnectDelay is the fixed delay between reconnect attempts.
	defaultReconnectDelay = 3 * time.Second
)

// ErrNotConnected is returned when a frame is sent without a live broker
// connection.
var ErrNotConnected = errors.New("transport: not connected")

type subscription struct {
	id    string
	topic string
}

// Client maintains one broker connection per authenticated session. Inbound
// MESSAGE frames are decoded and re-emitted through On; outbound typing and
// presence signals are fire-and-forget SEND frames.
type Client struct {
	brokerURL string
	dialer    *websocket.Dialer

	reconnectAttempts int
	reconnectDelay    time.Duration

	emitter *emitter

	mu         sync.Mutex
	conn       *websocket.Conn
	userID     string
	subs       map[string]subscription
	typingKey  string
	closed     bool
	generation int
}

// NewClient creates a transport for the given broker websocket URL.
func NewClient(brokerURL string) *Client {
	return &Client{
		brokerURL:         brokerURL,
		dialer:            &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		reconnectAttempts: defaultReconnectAttempts,
		reconnectDelay:    defaultReconnectDelay,
		emitter:           newEmitter(),
		subs:              make(map[string]subscription),
	}
}

// On registers a handler for an event and returns its removal function.
// Handlers are invoked synchronously in registration order; a panicking
// handler is logged and does not affect the others.
func (c *Client) On(event Event, handler Handler) func() {
	return c.emitter.on(event, handler)
}

// Connect opens the broker connection for userID and subscribes to the
// personal conversations channel and the global presence channel. It returns
// an error if the handshake fails; no automatic retry happens at this stage.
// Calling Connect on a live transport replaces the connection.
func (c *Client) Connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.userID = userID
	c.closed = false
	// Stale entries from a previous connection would make the auto-subscribe
	// below skip topics that the new connection never subscribed.
	c.subs = make(map[string]subscription)
	c.typingKey = ""
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	conn, err := c.dial(ctx, userID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.run(conn, gen)

	if err := c.subscribe("conversations", wire.ConversationsTopic(userID)); err != nil {
		return fmt.Errorf("subscribe conversations: %w", err)
	}
	if err := c.SubscribeToOnlineStatus(); err != nil {
		return fmt.Errorf("subscribe presence: %w", err)
	}

	c.emitter.emit(EventConnected, nil)
	return nil
}

// dial opens the websocket and performs the CONNECT/CONNECTED exchange.
func (c *Client) dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.brokerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	connect, err := wire.NewFrame(wire.FrameConnect, "", "", wire.ConnectBody{UserID: userID})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(connect); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send connect: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var reply wire.Frame
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await connected: %w", err)
	}
	if reply.Type != wire.FrameConnected {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected handshake frame %q", reply.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// Disconnect best-effort notifies presence-offline, tears down the
// connection and clears all subscriptions. Safe to call when already
// disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	userID := c.userID
	c.conn = nil
	c.subs = make(map[string]subscription)
	c.typingKey = ""
	c.generation++
	c.mu.Unlock()

	if conn != nil {
		offline, err := wire.NewFrame(wire.FrameSend, wire.OnlineStatusDestination, "",
			wire.PresenceEvent{UserID: userID, IsOnline: false})
		if err == nil {
			_ = conn.WriteJSON(offline)
		}
		_ = conn.Close()
	}
	c.emitter.emit(EventDisconnected, DisconnectedEvent{Reason: "client disconnect"})
}

// SubscribeToMessages subscribes to the message stream of one conversation,
// replacing any existing subscription for that conversation id.
func (c *Client) SubscribeToMessages(conversationID, userID string) error {
	key := "messages/" + conversationID
	c.unsubscribeKey(key)
	return c.subscribe(key, wire.MessagesTopic(conversationID, userID))
}

// SubscribeToTyping subscribes to a conversation's typing topic. At most one
// typing subscription is live per session: selecting a new conversation
// cancels the previous one.
func (c *Client) SubscribeToTyping(conversationID string) error {
	key := "typing/" + conversationID

	c.mu.Lock()
	previous := c.typingKey
	_, alreadySubscribed := c.subs[key]
	c.mu.Unlock()

	if previous == key && alreadySubscribed {
		return nil
	}
	if previous != "" && previous != key {
		c.unsubscribeKey(previous)
	}
	if err := c.subscribe(key, wire.TypingTopic(conversationID)); err != nil {
		return err
	}
	c.mu.Lock()
	c.typingKey = key
	c.mu.Unlock()
	return nil
}

// SubscribeToOnlineStatus subscribes to the global presence topic. Idempotent.
func (c *Client) SubscribeToOnlineStatus() error {
	c.mu.Lock()
	_, ok := c.subs["online-status"]
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.subscribe("online-status", wire.OnlineStatusTopic())
}

// SendTyping publishes a typing signal for the active user. Fire-and-forget;
// loss is tolerated.
func (c *Client) SendTyping(conversationID string, isTyping bool) error {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	return c.publish(wire.TypingDestination, wire.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
}

// SendPresence publishes the viewer's own online state.
func (c *Client) SendPresence(online bool) error {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	return c.publish(wire.OnlineStatusDestination, wire.PresenceEvent{UserID: userID, IsOnline: online})
}

func (c *Client) publish(destination string, body any) error {
	frame, err := wire.NewFrame(wire.FrameSend, destination, "", body)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) subscribe(key, topic string) error {
	sub := subscription{id: uuid.NewString(), topic: topic}
	frame, err := wire.NewFrame(wire.FrameSubscribe, topic, sub.id, nil)
	if err != nil {
		return err
	}
	if err := c.writeFrame(frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribeKey cancels a tracked subscription. Unknown keys are a no-op.
func (c *Client) unsubscribeKey(key string) {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	if c.typingKey == key {
		c.typingKey = ""
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	frame, err := wire.NewFrame(wire.FrameUnsubscribe, sub.topic, sub.id, nil)
	if err != nil {
		return
	}
	if err := c.writeFrame(frame); err != nil {
		log.Debug().Err(err).Str("topic", sub.topic).Msg("unsubscribe frame not sent")
	}
}

// writeFrame serializes one frame onto the connection. The mutex doubles as
// the single-writer guard the websocket requires.
func (c *Client) writeFrame(frame wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	return nil
}

// run reads frames until the connection fails, then drives the fixed-delay
// reconnect policy. A stale generation (explicit Disconnect or replacement
// Connect) ends the loop silently.
func (c *Client) run(conn *websocket.Conn, gen int) {
	for {
		err := c.readFrames(conn)
		if c.stale(gen) {
			return
		}
		reason := "connection closed"
		if err != nil {
			reason = err.Error()
		}
		log.Warn().Str("reason", reason).Msg("broker connection lost")
		c.emitter.emit(EventDisconnected, DisconnectedEvent{Reason: reason})

		next, ok := c.reconnect(gen)
		if !ok {
			c.mu.Lock()
			if c.generation == gen && c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			if !c.stale(gen) {
				log.Error().Int("attempts", c.reconnectAttempts).Msg("broker reconnect attempts exhausted")
				c.emitter.emit(EventDisconnected, DisconnectedEvent{
					Reason:   "reconnect attempts exhausted",
					Terminal: true,
				})
			}
			return
		}
		conn = next
		c.emitter.emit(EventConnected, nil)
	}
}

func (c *Client) readFrames(conn *websocket.Conn) error {
	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		c.dispatchFrame(frame)
	}
}

// reconnect retries the handshake with a fixed delay, restoring the
// subscription set on success.
func (c *Client) reconnect(gen int) (*websocket.Conn, bool) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	for attempt := 1; attempt <= c.reconnectAttempts; attempt++ {
		time.Sleep(c.reconnectDelay)
		if c.stale(gen) {
			return nil, false
		}

		conn, err := c.dial(context.Background(), userID)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("broker reconnect failed")
			continue
		}

		c.mu.Lock()
		// A Disconnect or replacement Connect may have landed while the dial
		// was in flight; the fresh connection must not be installed then.
		if c.closed || c.generation != gen {
			c.mu.Unlock()
			_ = conn.Close()
			return nil, false
		}
		c.conn = conn
		resubs := make([]subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			resubs = append(resubs, sub)
		}
		c.mu.Unlock()

		for _, sub := range resubs {
			frame, err := wire.NewFrame(wire.FrameSubscribe, sub.topic, sub.id, nil)
			if err != nil {
				continue
			}
			if err := c.writeFrame(frame); err != nil {
				log.Warn().Err(err).Str("topic", sub.topic).Msg("resubscribe failed")
			}
		}
		log.Info().Int("attempt", attempt).Msg("broker reconnected")
		return conn, true
	}
	return nil, false
}

func (c *Client) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.generation != gen
}

// dispatchFrame decodes a broker frame and re-emits it as a typed event.
// Undecodable frames are dropped with a log line.
func (c *Client) dispatchFrame(frame wire.Frame) {
	switch frame.Type {
	case wire.FrameMessage:
		c.dispatchMessage(frame)
	case wire.FrameError:
		log.Error().Str("body", string(frame.Body)).Msg("broker error frame")
	default:
		log.Debug().Str("type", string(frame.Type)).Msg("ignoring broker frame")
	}
}

func (c *Client) dispatchMessage(frame wire.Frame) {
	topic := frame.Destination
	switch {
	case strings.HasPrefix(topic, "topic/conversations/"):
		var conversations []types.Conversation
		if err := frame.DecodeBody(&conversations); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("dropping conversations push")
			return
		}
		c.emitter.emit(EventConversations, ConversationsEvent(conversations))

	case strings.HasPrefix(topic, "topic/messages/"):
		parts := strings.Split(topic, "/")
		if len(parts) < 3 {
			log.Warn().Str("topic", topic).Msg("malformed messages topic")
			return
		}
		var messages []types.Message
		if err := frame.DecodeBody(&messages); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("dropping messages push")
			return
		}
		c.emitter.emit(EventMessages, MessagesEvent{ConversationID: parts[2], Messages: messages})

	case strings.HasPrefix(topic, "topic/typing/"):
		var typing wire.TypingEvent
		if err := frame.DecodeBody(&typing); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("dropping typing push")
			return
		}
		c.emitter.emit(EventTyping, typing)

	case topic == wire.OnlineStatusTopic():
		var presence wire.PresenceEvent
		if err := frame.DecodeBody(&presence); err != nil {
			log.Warn().Err(err).Msg("dropping presence push")
			return
		}
		c.emitter.emit(EventOnlineStatus, presence)

	default:
		log.Debug().Str("topic", topic).Msg("push for unknown topic")
	}
}
