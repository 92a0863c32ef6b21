// Package api 是表接口的轻量客户端。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
)

// APIError 表示任意非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Client 调用 /api/v1 下的 REST 接口，可并发使用。
type Client struct {
	base   string
	client *http.Client

	mu    sync.RWMutex
	token string
}

// New 为 baseURL 创建客户端，httpClient 为 nil 时使用 http.DefaultClient。
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: strings.TrimSuffix(baseURL, "/"), client: httpClient}
}

// SetToken 设置每个请求携带的 bearer token。
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type loginResponse struct {
	AccessToken string        `json:"access_token"`
	User        protocol.User `json:"user"`
}

// Login 用凭据换取访问令牌并保存供后续调用。
func (c *Client) Login(ctx context.Context, username, password string) (*protocol.User, error) {
	var res loginResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.AccessToken)
	return &res.User, nil
}

func (c *Client) Me(ctx context.Context) (*protocol.User, error) {
	var u protocol.User
	if err := c.do(ctx, http.MethodGet, "/api/v1/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendMessage 发送私信，入库记录会带回 CorrelationID。
func (c *Client) SendMessage(ctx context.Context, req protocol.SendMessageRequest) (*protocol.Message, error) {
	var m protocol.Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) UnreadMessageCount(ctx context.Context) (int64, error) {
	return c.count(ctx, "/api/v1/messages/unread_count")
}

func (c *Client) UnreadNotificationCount(ctx context.Context) (int64, error) {
	return c.count(ctx, "/api/v1/notifications/unread_count")
}

// MarkConversationRead 把来自 peerID 的消息全部标记为已读，返回变更条数。
func (c *Client) MarkConversationRead(ctx context.Context, peerID uint) (int64, error) {
	var res protocol.CountResponse
	body := map[string]uint{"peer_id": peerID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages/read", body, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) count(ctx context.Context, path string) (int64, error) {
	var res protocol.CountResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
