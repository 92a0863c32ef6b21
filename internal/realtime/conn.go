package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/metrics"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Identity 是通过 token 鉴权后的连接身份。
type Identity struct {
	UserID   uint
	Username string
	Avatar   string
}

// Authenticator 校验 token 并返回身份。
type Authenticator func(token string) (Identity, error)

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	id     Identity
	topics map[string]*TopicHub
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 返回 websocket 端点：token 可来自 Authorization 头或 token 查询参数。
func Serve(h *Hub, authenticate Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		authz := c.GetHeader("Authorization")
		if token == "" && len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		id, err := authenticate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(h, conn, id)
		metrics.WsConnections.Inc()

		go client.writePump()
		client.readPump()
	}
}

func newClient(h *Hub, conn *websocket.Conn, id Identity) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		id:     id,
		topics: make(map[string]*TopicHub),
	}
}

// kick 关闭连接，只有第一次调用返回 true。
func (c *Client) kick() bool {
	first := false
	c.once.Do(func() {
		first = true
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
	return first
}

func (c *Client) readPump() {
	defer func() {
		for _, t := range c.topics {
			t.sendLeave(c)
		}
		c.kick()
		metrics.WsConnections.Dec()
	}()
	c.conn.SetReadLimit(1 << 16)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Uint("user_id", c.id.UserID).Msg("realtime read")
			}
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.replyError("", protocol.ErrCodeInvalidMsg, "invalid envelope")
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSubscribe:
		if !CanJoin(c.id.UserID, env.Topic) {
			c.replyError(env.Topic, protocol.ErrCodeForbidden, "cannot subscribe to topic")
			return
		}
		if _, ok := c.topics[env.Topic]; ok {
			return
		}
		c.topics[env.Topic] = c.hub.Join(env.Topic, c)
	case protocol.TypeUnsubscribe:
		if t, ok := c.topics[env.Topic]; ok {
			delete(c.topics, env.Topic)
			t.sendLeave(c)
		}
	case protocol.TypeTrack:
		t, ok := c.topics[env.Topic]
		if !ok {
			c.replyError(env.Topic, protocol.ErrCodeNotJoined, "subscribe before track")
			return
		}
		var rec protocol.PresenceRecord
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &rec); err != nil {
				c.replyError(env.Topic, protocol.ErrCodeInvalidMsg, "invalid presence payload")
				return
			}
		}
		// 身份以鉴权结果为准，客户端只能自定义头像与上线时间
		rec.UserID = c.id.UserID
		rec.Username = c.id.Username
		if rec.Avatar == "" {
			rec.Avatar = c.id.Avatar
		}
		if rec.OnlineAt.IsZero() {
			rec.OnlineAt = time.Now().UTC()
		}
		t.sendTrack(trackReq{client: c, rec: rec})
	default:
		c.replyError(env.Topic, protocol.ErrCodeInvalidMsg, "unknown message type")
	}
}

func (c *Client) replyError(topic, code, msg string) {
	b, err := protocol.Encode(protocol.TypeError, topic, protocol.ErrorMessage{Code: code, Message: msg})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.kick()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
