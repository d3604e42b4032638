package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"llama-chat/internal/domain"
)

// wireMessage is a message as the backend stores it.
type wireMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
}

type wireConversation struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Messages []wireMessage `json:"messages"`
}

// wireDetail is the wrapped form of GET /conversations/{id}; some backend
// builds return the bare conversation instead.
type wireDetail struct {
	Conversation *wireConversation `json:"conversation"`
	TotalLength  *int              `json:"total_length"`
}

type renameRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func toMessages(in []wireMessage) []domain.Message {
	out := make([]domain.Message, len(in))
	for i, m := range in {
		out[i] = domain.Message{Role: domain.RoleFromWire(m.User), Text: m.Text, Index: i}
	}
	return out
}

func convPath(id string, rest ...string) string {
	p := "/conversations/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// ListConversations implements domain.ConversationAPI.
func (c *Client) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	const op = "rest.ListConversations"
	data, err := c.do(ctx, op, http.MethodGet, "/conversations", nil)
	if err != nil {
		return nil, err
	}
	list, err := decode[[]domain.ConversationSummary](op, data)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.ConversationSummary{}
	}
	return list, nil
}

// CreateConversation implements domain.ConversationAPI.
func (c *Client) CreateConversation(ctx context.Context) (domain.ConversationSummary, error) {
	const op = "rest.CreateConversation"
	data, err := c.do(ctx, op, http.MethodPost, "/conversations", nil)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	conv, err := decode[wireConversation](op, data)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	if conv.ID == "" {
		return domain.ConversationSummary{}, domain.NewDomainError(op, domain.ErrRestFailure, "response has no id")
	}
	return domain.ConversationSummary{ID: conv.ID, Name: conv.Name}, nil
}

// GetConversation implements domain.ConversationAPI.
func (c *Client) GetConversation(ctx context.Context, id string) (*domain.ConversationDetail, error) {
	const op = "rest.GetConversation"
	data, err := c.do(ctx, op, http.MethodGet, convPath(id), nil)
	if err != nil {
		return nil, err
	}

	var wrapped wireDetail
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, domain.NewDomainError(op, domain.ErrRestFailure, "decode response: "+err.Error())
	}
	conv := wrapped.Conversation
	if conv == nil {
		bare, err := decode[wireConversation](op, data)
		if err != nil {
			return nil, err
		}
		conv = &bare
	}
	if conv.ID == "" {
		conv.ID = id
	}

	detail := &domain.ConversationDetail{
		Conversation: domain.Conversation{
			ID:       conv.ID,
			Name:     conv.Name,
			Messages: toMessages(conv.Messages),
		},
		TotalLength: -1,
	}
	if wrapped.TotalLength != nil {
		detail.TotalLength = *wrapped.TotalLength
	}
	return detail, nil
}

// RenameConversation implements domain.ConversationAPI. The backend answers
// 400 when the name is taken.
func (c *Client) RenameConversation(ctx context.Context, id, name string) error {
	const op = "rest.RenameConversation"
	_, err := c.do(ctx, op, http.MethodPut, convPath(id, "rename"), renameRequest{ID: id, Name: name})
	return err
}

// DeleteConversation implements domain.ConversationAPI.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	const op = "rest.DeleteConversation"
	_, err := c.do(ctx, op, http.MethodDelete, convPath(id), nil)
	return err
}

// PostUserMessage implements domain.ConversationAPI.
func (c *Client) PostUserMessage(ctx context.Context, conversationID, text string) ([]domain.Message, error) {
	const op = "rest.PostUserMessage"
	body := wireMessage{User: domain.WireUserName, Text: text}
	data, err := c.do(ctx, op, http.MethodPost, convPath(conversationID, "messages", "user"), body)
	if err != nil {
		return nil, err
	}
	conv, err := decode[wireConversation](op, data)
	if err != nil {
		return nil, err
	}
	return toMessages(conv.Messages), nil
}

// EditMessage implements domain.ConversationAPI.
func (c *Client) EditMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	const op = "rest.EditMessage"
	if msg.Index < 0 {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "negative message index")
	}
	body := wireMessage{User: msg.Role.WireName(), Text: msg.Text}
	path := convPath(conversationID, "messages", strconv.Itoa(msg.Index))
	_, err := c.do(ctx, op, http.MethodPut, path, body)
	return err
}

// TokenCount implements domain.ConversationAPI. The backend answers either
// a bare integer or {"total_length": n}.
func (c *Client) TokenCount(ctx context.Context, conversationID string) (int, error) {
	const op = "rest.TokenCount"
	data, err := c.do(ctx, op, http.MethodGet, convPath(conversationID, "tokens"), nil)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		return n, nil
	}
	var wrapped struct {
		TotalLength *int `json:"total_length"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil || wrapped.TotalLength == nil {
		return 0, domain.NewDomainError(op, domain.ErrRestFailure,
			fmt.Sprintf("unexpected token count body %q", truncate(string(data), 64)))
	}
	return *wrapped.TotalLength, nil
}

// ListModels implements domain.ConversationAPI.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	const op = "rest.ListModels"
	data, err := c.do(ctx, op, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	return decode[[]string](op, data)
}

// SetModel implements domain.ConversationAPI.
func (c *Client) SetModel(ctx context.Context, name string) error {
	const op = "rest.SetModel"
	_, err := c.do(ctx, op, http.MethodPost, "/set_model/"+url.PathEscape(name), nil)
	return err
}

// DefaultModel implements domain.ConversationAPI.
func (c *Client) DefaultModel(ctx context.Context) (string, error) {
	const op = "rest.DefaultModel"
	data, err := c.do(ctx, op, http.MethodGet, "/default_model", nil)
	if err != nil {
		return "", err
	}
	resp, err := decode[struct {
		DefaultModel string `json:"default_model"`
	}](op, data)
	if err != nil {
		return "", err
	}
	return resp.DefaultModel, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.ConversationAPI = (*Client)(nil)
