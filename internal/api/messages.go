package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wavechat/chatkit/pkg/types"
)

// FileUpload is an attachment included with a sent message.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// SendMessageRequest describes one outgoing message. Exactly one of
// ConversationID or ReceiverID must be set; ReceiverID lets the server
// resolve (or create) the private conversation itself.
type SendMessageRequest struct {
	SenderID       string
	ConversationID string
	ReceiverID     string
	MessageType    types.MessageType
	Content        string
	ReplyToID      string
	Files          []FileUpload
}

// GetMessages fetches one page of a conversation's message history, newest
// page first.
func (c *Client) GetMessages(ctx context.Context, conversationID string, page, size int) ([]types.Message, error) {
	query := url.Values{}
	query.Set("conversationId", conversationID)
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	var messages []types.Message
	if err := c.getJSON(ctx, "/messages/get-by-conversation", query, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage posts a message (multipart, to carry optional attachments) and
// returns the server-acknowledged message. The conversation's live message
// list is updated by the subsequent broker push, not by this return value.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*types.Message, error) {
	if req.SenderID == "" {
		return nil, fmt.Errorf("send message: missing sender id")
	}
	if req.ConversationID == "" && req.ReceiverID == "" {
		return nil, fmt.Errorf("send message: missing conversation or receiver id")
	}
	if req.MessageType == "" {
		req.MessageType = types.MessageText
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := map[string]string{
		"senderId":    req.SenderID,
		"messageType": string(req.MessageType),
	}
	if req.ConversationID != "" {
		fields["conversationId"] = req.ConversationID
	} else {
		fields["receiverId"] = req.ReceiverID
	}
	if req.Content != "" {
		fields["content"] = req.Content
	}
	if req.ReplyToID != "" {
		fields["replyToId"] = req.ReplyToID
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}
	for _, file := range req.Files {
		part, err := writer.CreateFormFile("files", file.Name)
		if err != nil {
			return nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, fmt.Errorf("write file %s: %w", file.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart body: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/messages/send", nil, buf.Bytes(), writer.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var msg types.Message
	if err := decodeData(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces a message's content and marks it edited.
func (c *Client) EditMessage(ctx context.Context, messageID, newContent, conversationID string) (*types.Message, error) {
	req := map[string]string{
		"messageId":      messageID,
		"newContent":     newContent,
		"conversationId": conversationID,
	}
	var msg types.Message
	if err := c.postJSON(ctx, "/messages/edit", nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RecallMessage tombstones a message for all members.
func (c *Client) RecallMessage(ctx context.Context, messageID, userID string) error {
	query := url.Values{}
	query.Set("userId", userID)
	path := fmt.Sprintf("/messages/%s/recall", url.PathEscape(messageID))
	_, err := c.do(ctx, http.MethodPut, path, query, nil, "")
	return err
}

// MarkAllSeen marks every message in the conversation as seen by userID.
func (c *Client) MarkAllSeen(ctx context.Context, conversationID, userID string) error {
	query := url.Values{}
	query.Set("conversationId", conversationID)
	query.Set("userId", userID)
	return c.postJSON(ctx, "/message-statuses/mark-all-seen", query, nil, nil)
}

// SearchMessages runs a keyword search within one conversation.
func (c *Client) SearchMessages(ctx context.Context, conversationID, keyword string, page, size int) ([]types.Message, error) {
	query := url.Values{}
	query.Set("conversationId", conversationID)
	query.Set("keyword", keyword)
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	var messages []types.Message
	if err := c.getJSON(ctx, "/messages/search", query, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
