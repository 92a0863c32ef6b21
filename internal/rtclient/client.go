// Package rtclient 是实时 websocket 的客户端：单条连接按 topic 复用 presence 与变更流频道。
package rtclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed 表示向已关闭的连接写入。
var ErrClosed = errors.New("rtclient: connection closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client 是一条实时连接。
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
}

// Dial 连接实时端点，使用 bearer token 鉴权。
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	c := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		log:      log.Logger.With().Str("component", "rtclient").Logger(),
		channels: make(map[string]*Channel),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Channel 返回 topic 对应的频道，首次使用时创建。
func (c *Client) Channel(topic string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[topic]; ok {
		return ch
	}
	ch := newChannel(c, topic)
	c.channels[topic] = ch
	return ch
}

// Done 在连接断开后关闭。
func (c *Client) Done() <-chan struct{} { return c.done }

// Close 关闭连接，所有频道上报 StatusClosed。
func (c *Client) Close() {
	c.shutdown()
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.mu.RLock()
		chans := make([]*Channel, 0, len(c.channels))
		for _, ch := range c.channels {
			chans = append(chans, ch)
		}
		c.mu.RUnlock()
		for _, ch := range chans {
			ch.setStatus(protocol.StatusClosed)
		}
	})
}

func (c *Client) forget(topic string) {
	c.mu.Lock()
	delete(c.channels, topic)
	c.mu.Unlock()
}

func (c *Client) write(ctx context.Context, typ protocol.MessageType, topic string, data interface{}) error {
	b, err := protocol.Encode(typ, topic, data)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readPump() {
	defer c.shutdown()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// 服务端 ping 同样视为存活
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("realtime connection lost")
			}
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("parse envelope")
			continue
		}
		c.mu.RLock()
		ch := c.channels[env.Topic]
		c.mu.RUnlock()
		if ch == nil {
			continue
		}
		ch.dispatch(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
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
			return
		}
	}
}

func decode(env *protocol.Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, v)
}
