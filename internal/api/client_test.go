package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/chat"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/gin-gonic/gin"
)

var _ chat.Sender = (*Client)(nil)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	requireToken := func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer tok" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		}
	}
	r.POST("/api/v1/auth/login", func(c *gin.Context) {
		var req struct{ Username, Password string }
		_ = c.ShouldBindJSON(&req)
		if req.Password != "pw" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": "tok", "user": gin.H{"id": 1, "username": req.Username}})
	})
	authed := r.Group("/api/v1", requireToken)
	authed.GET("/me", func(c *gin.Context) { c.JSON(http.StatusOK, protocol.User{ID: 1, Username: "alice"}) })
	authed.POST("/messages", func(c *gin.Context) {
		var req protocol.SendMessageRequest
		_ = c.ShouldBindJSON(&req)
		c.JSON(http.StatusCreated, protocol.Message{ID: 10, CorrelationID: req.CorrelationID, SenderID: 1, ReceiverID: req.ReceiverID, Content: req.Content})
	})
	authed.GET("/messages/unread_count", func(c *gin.Context) { c.JSON(http.StatusOK, protocol.CountResponse{Count: 3}) })
	authed.GET("/notifications/unread_count", func(c *gin.Context) { c.JSON(http.StatusOK, protocol.CountResponse{Count: 4}) })
	authed.POST("/messages/read", func(c *gin.Context) {
		var req struct {
			PeerID uint `json:"peer_id"`
		}
		_ = c.ShouldBindJSON(&req)
		c.JSON(http.StatusOK, protocol.CountResponse{Count: int64(req.PeerID)})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LoginAndCalls(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL+"/", nil)
	ctx := context.Background()

	user, err := c.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID != 1 || c.Token() != "tok" {
		t.Errorf("Login() user = %+v token = %q", user, c.Token())
	}

	me, err := c.Me(ctx)
	if err != nil || me.Username != "alice" {
		t.Errorf("Me() = %+v, %v", me, err)
	}

	msg, err := c.SendMessage(ctx, protocol.SendMessageRequest{ReceiverID: 2, Content: "hi", CorrelationID: "c-1"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.CorrelationID != "c-1" || msg.ReceiverID != 2 {
		t.Errorf("SendMessage() = %+v", msg)
	}

	if n, err := c.UnreadMessageCount(ctx); err != nil || n != 3 {
		t.Errorf("UnreadMessageCount() = %d, %v", n, err)
	}
	if n, err := c.UnreadNotificationCount(ctx); err != nil || n != 4 {
		t.Errorf("UnreadNotificationCount() = %d, %v", n, err)
	}
	if n, err := c.MarkConversationRead(ctx, 7); err != nil || n != 7 {
		t.Errorf("MarkConversationRead() = %d, %v", n, err)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, nil)

	_, err := c.Login(context.Background(), "alice", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Login() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "invalid credentials" {
		t.Errorf("APIError = %+v", apiErr)
	}

	_, err = c.UnreadMessageCount(context.Background())
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("UnreadMessageCount() without token error = %v", err)
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		err  *APIError
		want string
	}{
		{&APIError{StatusCode: 404, Message: "not found"}, "api: 404 not found"},
		{&APIError{StatusCode: 502}, "api: 502 Bad Gateway"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestClient_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Me(context.Background())
	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("Me() error = %v, want decode error", err)
	}
	var syntax *json.SyntaxError
	if !errors.As(err, &syntax) {
		t.Errorf("Me() error = %v, want wrapped json.SyntaxError", err)
	}
}
