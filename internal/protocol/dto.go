package protocol

import (
	"strconv"
	"time"
)

// Message 是私信在表接口中的表示，也是 messages 变更事件携带的记录。
type Message struct {
	ID            uint       `json:"id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	SenderID      uint       `json:"sender_id"`
	ReceiverID    uint       `json:"receiver_id"`
	Content       string     `json:"content"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Notification 是通知在表接口中的表示。
type Notification struct {
	ID        uint       `json:"id"`
	UserID    uint       `json:"user_id"`
	Kind      string     `json:"kind"`
	Body      string     `json:"body"`
	ActorID   uint       `json:"actor_id,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// User 是 /me 与登录接口返回的公开资料。
type User struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// SendMessageRequest 是 POST /api/v1/messages 的请求体。
type SendMessageRequest struct {
	ReceiverID    uint   `json:"receiver_id"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// CountResponse 是 unread_count 接口的响应。
type CountResponse struct {
	Count int64 `json:"count"`
}

func formatUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
