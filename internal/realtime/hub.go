package realtime

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/metrics"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Hub 管理 topic 级别的子 Hub，实现延迟创建与并发安全。
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*TopicHub
}

func NewHub() *Hub { return &Hub{topics: make(map[string]*TopicHub)} }

// GetTopic 若 topic 未初始化则懒加载一个 TopicHub。
func (h *Hub) GetTopic(name string) *TopicHub {
	h.mu.RLock()
	t := h.topics[name]
	h.mu.RUnlock()
	if t != nil {
		return t
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	t = h.topics[name]
	if t != nil {
		return t
	}
	t = newTopicHub(h, name)
	h.topics[name] = t
	go t.run()
	return t
}

// Join 把 c 加入 topic 并返回对应的 TopicHub；若拿到的 TopicHub 恰好在回收，换新的重试。
func (h *Hub) Join(name string, c *Client) *TopicHub {
	for {
		t := h.GetTopic(name)
		select {
		case t.join <- c:
			return t
		case <-t.quit:
		}
	}
}

// retire 在最后一个成员离开后把 t 移出 topics 并通知阻塞中的发送方。
func (h *Hub) retire(t *TopicHub) {
	h.mu.Lock()
	if h.topics[t.name] == t {
		delete(h.topics, t.name)
	}
	h.mu.Unlock()
	close(t.quit)
}

// Online 返回 topic 中已 track 的 presence 条数，topic 不存在时为 0。
func (h *Hub) Online(name string) int {
	h.mu.RLock()
	t := h.topics[name]
	h.mu.RUnlock()
	if t == nil {
		return 0
	}
	return t.Online()
}

// Publish 把 change 事件投递给订阅了 topic 的连接；无人订阅时直接丢弃。
func (h *Hub) Publish(topic string, change protocol.Change) {
	h.mu.RLock()
	t := h.topics[topic]
	h.mu.RUnlock()
	if t == nil {
		return
	}
	b, err := protocol.Encode(protocol.TypeChange, topic, change)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("encode change")
		return
	}
	select {
	case t.broadcast <- b:
	case <-t.quit:
	}
}

// CanJoin 判断用户能否订阅 topic：user:<id> 只允许本人订阅。
func CanJoin(userID uint, topic string) bool {
	if !strings.HasPrefix(topic, "user:") {
		return topic != ""
	}
	return topic == protocol.UserTopic(userID)
}

type trackReq struct {
	client *Client
	rec    protocol.PresenceRecord
}

// TopicHub 串行处理单个 topic 的订阅、presence 与广播；最后一个成员离开时自行回收。
type TopicHub struct {
	hub       *Hub
	name      string
	members   map[*Client]bool
	presence  map[*Client]protocol.PresenceRecord
	join      chan *Client
	leave     chan *Client
	track     chan trackReq
	broadcast chan []byte
	quit      chan struct{}
	online    int32
}

func newTopicHub(h *Hub, name string) *TopicHub {
	return &TopicHub{
		hub:       h,
		name:      name,
		members:   make(map[*Client]bool),
		presence:  make(map[*Client]protocol.PresenceRecord),
		join:      make(chan *Client),
		leave:     make(chan *Client),
		track:     make(chan trackReq),
		broadcast: make(chan []byte, 256),
		quit:      make(chan struct{}),
	}
}

// sendLeave 与 sendTrack 在 topic 已回收时直接返回。
func (t *TopicHub) sendLeave(c *Client) {
	select {
	case t.leave <- c:
	case <-t.quit:
	}
}

func (t *TopicHub) sendTrack(req trackReq) {
	select {
	case t.track <- req:
	case <-t.quit:
	}
}

func (t *TopicHub) run() {
	for {
		select {
		case c := <-t.join:
			t.members[c] = true
			t.sendTo(c, protocol.TypeSubscribed, nil)
			t.sendTo(c, protocol.TypePresenceState, t.state())
		case c := <-t.leave:
			if _, ok := t.members[c]; !ok {
				continue
			}
			delete(t.members, c)
			if rec, ok := t.presence[c]; ok {
				delete(t.presence, c)
				t.syncOnline()
				key := protocol.PresenceKey(rec.UserID)
				t.fanoutPresence(protocol.PresenceDiff{Leaves: protocol.PresenceState{key: {rec}}})
			}
			if len(t.members) == 0 {
				t.hub.retire(t)
				return
			}
		case req := <-t.track:
			if _, ok := t.members[req.client]; !ok {
				t.sendTo(req.client, protocol.TypeError, protocol.ErrorMessage{Code: protocol.ErrCodeNotJoined, Message: "subscribe before track"})
				continue
			}
			diff := protocol.PresenceDiff{Joins: protocol.PresenceState{protocol.PresenceKey(req.rec.UserID): {req.rec}}}
			if prev, ok := t.presence[req.client]; ok {
				diff.Leaves = protocol.PresenceState{protocol.PresenceKey(prev.UserID): {prev}}
			}
			t.presence[req.client] = req.rec
			t.syncOnline()
			t.fanoutPresence(diff)
		case msg := <-t.broadcast:
			for c := range t.members {
				t.deliver(c, msg)
			}
			metrics.RealtimeEventsTotal.WithLabelValues(string(protocol.TypeChange)).Inc()
		}
	}
}

// state 汇总当前 presence，同一用户的多条连接保留为多条记录。
func (t *TopicHub) state() protocol.PresenceState {
	st := make(protocol.PresenceState, len(t.presence))
	for _, rec := range t.presence {
		key := protocol.PresenceKey(rec.UserID)
		st[key] = append(st[key], rec)
	}
	return st
}

// fanoutPresence 先广播 diff（供 join/leave 观察），再广播完整快照。
func (t *TopicHub) fanoutPresence(diff protocol.PresenceDiff) {
	diffMsg, err := protocol.Encode(protocol.TypePresenceDiff, t.name, diff)
	if err != nil {
		return
	}
	stateMsg, err := protocol.Encode(protocol.TypePresenceState, t.name, t.state())
	if err != nil {
		return
	}
	for c := range t.members {
		t.deliver(c, diffMsg)
		t.deliver(c, stateMsg)
	}
	metrics.RealtimeEventsTotal.WithLabelValues(string(protocol.TypePresenceDiff)).Inc()
}

func (t *TopicHub) sendTo(c *Client, typ protocol.MessageType, data interface{}) {
	b, err := protocol.Encode(typ, t.name, data)
	if err != nil {
		return
	}
	t.deliver(c, b)
}

// deliver 非阻塞写入；缓冲区已满的慢连接会被断开，随后由 readPump 走正常的 leave 流程。
func (t *TopicHub) deliver(c *Client, b []byte) {
	select {
	case c.send <- b:
	default:
		if c.kick() {
			metrics.SlowConsumersTotal.Inc()
		}
	}
}

func (t *TopicHub) syncOnline() {
	atomic.StoreInt32(&t.online, int32(len(t.presence)))
}

// Online 返回已 track 的 presence 条数，供 REST 接口复用。
func (t *TopicHub) Online() int { return int(atomic.LoadInt32(&t.online)) }
