package rtclient

import (
	"context"
	"sort"
	"sync"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
)

// Channel 是实时连接上的一个 topic。
type Channel struct {
	client *Client
	topic  string

	mu       sync.Mutex
	status   protocol.SubscribeStatus
	onStatus func(protocol.SubscribeStatus)
	state    protocol.PresenceState
	presence map[protocol.PresenceEventType][]func(protocol.PresenceEvent)
	changes  []func(protocol.Change)
}

func newChannel(c *Client, topic string) *Channel {
	return &Channel{
		client:   c,
		topic:    topic,
		state:    protocol.PresenceState{},
		presence: make(map[protocol.PresenceEventType][]func(protocol.PresenceEvent)),
	}
}

func (ch *Channel) Topic() string { return ch.topic }

func (ch *Channel) Status() protocol.SubscribeStatus {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.status
}

// Subscribe 加入 topic：立即以 pending 回调 onStatus，服务端确认后再以 subscribed 回调。
func (ch *Channel) Subscribe(ctx context.Context, onStatus func(protocol.SubscribeStatus)) error {
	ch.mu.Lock()
	ch.onStatus = onStatus
	ch.mu.Unlock()
	ch.setStatus(protocol.StatusPending)
	if err := ch.client.write(ctx, protocol.TypeSubscribe, ch.topic, nil); err != nil {
		ch.setStatus(protocol.StatusError)
		return err
	}
	return nil
}

// Track 在 topic 上发布本客户端的 presence。
func (ch *Channel) Track(ctx context.Context, rec protocol.PresenceRecord) error {
	return ch.client.write(ctx, protocol.TypeTrack, ch.topic, rec)
}

// OnPresence 注册 presence 处理函数，在读 goroutine 上执行，不可阻塞。
func (ch *Channel) OnPresence(event protocol.PresenceEventType, fn func(protocol.PresenceEvent)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.presence[event] = append(ch.presence[event], fn)
}

// OnChange 注册变更流处理函数。
func (ch *Channel) OnChange(fn func(protocol.Change)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.changes = append(ch.changes, fn)
}

// PresenceState 返回最新 presence 快照的副本。
func (ch *Channel) PresenceState() protocol.PresenceState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state.Clone()
}

// Unsubscribe 离开 topic 并丢弃全部处理函数。
func (ch *Channel) Unsubscribe() error {
	ch.client.forget(ch.topic)
	ch.mu.Lock()
	ch.onStatus = nil
	ch.presence = make(map[protocol.PresenceEventType][]func(protocol.PresenceEvent))
	ch.changes = nil
	ch.state = protocol.PresenceState{}
	ch.status = protocol.StatusClosed
	ch.mu.Unlock()

	select {
	case <-ch.client.done:
		return nil
	default:
	}
	return ch.client.write(context.Background(), protocol.TypeUnsubscribe, ch.topic, nil)
}

func (ch *Channel) setStatus(s protocol.SubscribeStatus) {
	ch.mu.Lock()
	ch.status = s
	fn := ch.onStatus
	ch.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (ch *Channel) dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSubscribed:
		ch.setStatus(protocol.StatusSubscribed)
	case protocol.TypePresenceState:
		var st protocol.PresenceState
		if err := decode(env, &st); err != nil {
			ch.client.log.Debug().Err(err).Str("topic", ch.topic).Msg("decode presence state")
			return
		}
		if st == nil {
			st = protocol.PresenceState{}
		}
		ch.mu.Lock()
		ch.state = st
		ch.mu.Unlock()
		ch.emitPresence(protocol.PresenceEvent{Type: protocol.PresenceSync})
	case protocol.TypePresenceDiff:
		var diff protocol.PresenceDiff
		if err := decode(env, &diff); err != nil {
			ch.client.log.Debug().Err(err).Str("topic", ch.topic).Msg("decode presence diff")
			return
		}
		for _, key := range sortedKeys(diff.Joins) {
			ch.emitPresence(protocol.PresenceEvent{Type: protocol.PresenceJoin, Key: key, Presences: diff.Joins[key]})
		}
		for _, key := range sortedKeys(diff.Leaves) {
			ch.emitPresence(protocol.PresenceEvent{Type: protocol.PresenceLeave, Key: key, Presences: diff.Leaves[key]})
		}
	case protocol.TypeChange:
		var change protocol.Change
		if err := decode(env, &change); err != nil {
			ch.client.log.Debug().Err(err).Str("topic", ch.topic).Msg("decode change")
			return
		}
		ch.mu.Lock()
		handlers := append([]func(protocol.Change){}, ch.changes...)
		ch.mu.Unlock()
		for _, fn := range handlers {
			fn(change)
		}
	case protocol.TypeError:
		var e protocol.ErrorMessage
		_ = decode(env, &e)
		ch.client.log.Warn().Str("topic", ch.topic).Str("code", e.Code).Msg(e.Message)
		if e.Code == protocol.ErrCodeForbidden && ch.Status() == protocol.StatusPending {
			ch.setStatus(protocol.StatusError)
		}
	}
}

func (ch *Channel) emitPresence(ev protocol.PresenceEvent) {
	ch.mu.Lock()
	handlers := append([]func(protocol.PresenceEvent){}, ch.presence[ev.Type]...)
	ch.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func sortedKeys(st protocol.PresenceState) []string {
	keys := make([]string, 0, len(st))
	for k := range st {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
