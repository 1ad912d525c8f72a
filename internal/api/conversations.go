package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/wavechat/chatkit/pkg/types"
)

// ListConversations fetches the viewer's conversation list.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]types.Conversation, error) {
	var conversations []types.Conversation
	path := fmt.Sprintf("/conversations/user/%s", url.PathEscape(userID))
	if err := c.getJSON(ctx, path, nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// GetOrCreatePrivate returns the one-to-one conversation between sender and
// receiver, creating it if it does not exist yet. The call is idempotent:
// the same pair always maps to the same conversation id, in either order.
func (c *Client) GetOrCreatePrivate(ctx context.Context, senderID, receiverID string) (*types.Conversation, error) {
	query := url.Values{}
	query.Set("senderId", senderID)
	query.Set("receiverId", receiverID)
	var conv types.Conversation
	if err := c.postJSON(ctx, "/conversations/one-to-one", query, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateGroup creates a new group conversation owned by createdBy. Members
// beyond the creator are added with AddMember.
func (c *Client) CreateGroup(ctx context.Context, name, createdBy string) (*types.Conversation, error) {
	query := url.Values{}
	query.Set("name", name)
	query.Set("createdBy", createdBy)
	var conv types.Conversation
	if err := c.postJSON(ctx, "/conversations/create-group", query, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// AddMember adds a user to a group conversation.
func (c *Client) AddMember(ctx context.Context, conversationID, userID string) error {
	req := map[string]string{
		"conversationId": conversationID,
		"userId":         userID,
	}
	return c.postJSON(ctx, "/conversation-members/add", nil, req, nil)
}
