// Package presence 镜像实时 presence 频道上发布的在线用户集合。
package presence

import (
	"context"
	"sync"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State 是 Tracker 的订阅状态。
type State int

const (
	Unsubscribed State = iota
	Pending
	Subscribed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Subscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// Channel 是 Tracker 监听的实时 presence 频道。
type Channel interface {
	Subscribe(ctx context.Context, onStatus func(protocol.SubscribeStatus)) error
	OnPresence(event protocol.PresenceEventType, fn func(protocol.PresenceEvent))
	PresenceState() protocol.PresenceState
	Track(ctx context.Context, rec protocol.PresenceRecord) error
	Unsubscribe() error
}

// Tracker 维护频道 presence 状态的只读镜像：每次 sync 整体替换，join/leave 只记日志。
type Tracker struct {
	self protocol.PresenceRecord
	log  zerolog.Logger

	mu      sync.RWMutex
	state   State
	tracked bool
	users   []protocol.PresenceRecord
	ch      Channel
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewTracker(self protocol.PresenceRecord) *Tracker {
	return &Tracker{
		self: self,
		log:  log.Logger.With().Str("component", "presence").Logger(),
	}
}

// WithLogger 替换 Tracker 的日志器。
func (t *Tracker) WithLogger(l zerolog.Logger) *Tracker {
	t.log = l
	return t
}

// Start 订阅 ch。订阅被确认时发布一次自身 presence，其余状态保持 pending；
// ctx 结束或调用 Stop 之后到达的事件一律忽略。
func (t *Tracker) Start(ctx context.Context, ch Channel) error {
	t.mu.Lock()
	if t.state != Unsubscribed {
		t.mu.Unlock()
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.ch = ch
	t.state = Pending
	t.tracked = false
	scope := t.ctx
	t.mu.Unlock()

	ch.OnPresence(protocol.PresenceSync, func(protocol.PresenceEvent) {
		if scope.Err() != nil {
			return
		}
		t.replace(ch.PresenceState())
	})
	ch.OnPresence(protocol.PresenceJoin, func(ev protocol.PresenceEvent) {
		if scope.Err() != nil {
			return
		}
		t.log.Debug().Str("key", ev.Key).Int("presences", len(ev.Presences)).Msg("presence join")
	})
	ch.OnPresence(protocol.PresenceLeave, func(ev protocol.PresenceEvent) {
		if scope.Err() != nil {
			return
		}
		t.log.Debug().Str("key", ev.Key).Int("presences", len(ev.Presences)).Msg("presence leave")
	})

	err := ch.Subscribe(scope, func(status protocol.SubscribeStatus) {
		t.onStatus(scope, status)
	})
	if err != nil {
		t.log.Warn().Err(err).Msg("presence subscribe")
	}
	return err
}

func (t *Tracker) onStatus(scope context.Context, status protocol.SubscribeStatus) {
	if scope.Err() != nil {
		return
	}
	if status != protocol.StatusSubscribed {
		t.log.Debug().Str("status", string(status)).Msg("presence channel not subscribed")
		return
	}

	t.mu.Lock()
	if t.state == Unsubscribed {
		t.mu.Unlock()
		return
	}
	t.state = Subscribed
	first := !t.tracked
	t.tracked = true
	ch := t.ch
	t.mu.Unlock()

	if !first {
		return
	}
	if err := ch.Track(scope, t.self); err != nil {
		t.log.Warn().Err(err).Uint("user_id", t.self.UserID).Msg("presence track")
	}
}

func (t *Tracker) replace(state protocol.PresenceState) {
	users := make([]protocol.PresenceRecord, 0, len(state))
	for _, recs := range state {
		users = append(users, recs...)
	}
	t.mu.Lock()
	if t.state != Unsubscribed {
		t.users = users
	}
	t.mu.Unlock()
}

// Stop 释放订阅并清空镜像。
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.state == Unsubscribed {
		t.mu.Unlock()
		return
	}
	t.cancel()
	ch := t.ch
	t.state = Unsubscribed
	t.users = nil
	t.ch = nil
	t.mu.Unlock()

	if err := ch.Unsubscribe(); err != nil {
		t.log.Debug().Err(err).Msg("presence unsubscribe")
	}
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Users 返回在线记录快照，同一用户的多条连接表现为多条记录。
func (t *Tracker) Users() []protocol.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]protocol.PresenceRecord(nil), t.users...)
}

// IsUserOnline 线性扫描镜像。
func (t *Tracker) IsUserOnline(userID uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, u := range t.users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}
