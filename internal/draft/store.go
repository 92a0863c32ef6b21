// Package draft 按内容类型持久化输入框中未发送的文本。
package draft

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	// MaxAge 是草稿保存后可被读取的时长。
	MaxAge = 24 * time.Hour

	keyPrefix = "draft_"
)

// KV 是字符串键的本地存储，本身不处理过期。
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Draft 是未发送文本的存储形式，Timestamp 为毫秒时间戳。
type Draft struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// Age 返回草稿在 now 时刻的存在时长。
func (d Draft) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(d.Timestamp))
}

type Option func(*Store)

func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// Store 按类型对写入防抖，并隐藏超过 MaxAge 的草稿。
type Store struct {
	kv       KV
	debounce time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingSave
	closed  bool
}

type pendingSave struct {
	content string
	timer   *time.Timer
}

func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		debounce: DefaultDebounce,
		now:      time.Now,
		log:      log.Logger.With().Str("component", "draft").Logger(),
		pending:  make(map[string]*pendingSave),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save 安排写入 typ 的内容，防抖窗口内同类型没有新的 Save 才真正落盘；
// 空白内容改为清除草稿。
func (s *Store) Save(typ, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if p, ok := s.pending[typ]; ok {
		p.content = content
		p.timer.Reset(s.debounce)
		return
	}
	p := &pendingSave{content: content}
	p.timer = time.AfterFunc(s.debounce, func() { s.fire(typ, p) })
	s.pending[typ] = p
}

func (s *Store) fire(typ string, p *pendingSave) {
	s.mu.Lock()
	if s.pending[typ] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, typ)
	content := p.content
	s.mu.Unlock()
	s.write(typ, content)
}

func (s *Store) write(typ, content string) {
	if strings.TrimSpace(content) == "" {
		if err := s.kv.Delete(keyPrefix + typ); err != nil {
			s.log.Warn().Err(err).Str("type", typ).Msg("clear draft")
		}
		return
	}
	b, err := json.Marshal(Draft{Content: content, Timestamp: s.now().UnixMilli(), Type: typ})
	if err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("encode draft")
		return
	}
	if err := s.kv.Set(keyPrefix+typ, string(b)); err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("save draft")
	}
}

// Load 返回 typ 的草稿；缺失、无法解析或已过期都视为不存在，过期的会被删除。
func (s *Store) Load(typ string) (Draft, bool) {
	raw, ok, err := s.kv.Get(keyPrefix + typ)
	if err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("load draft")
		return Draft{}, false
	}
	if !ok {
		return Draft{}, false
	}
	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		s.log.Debug().Err(err).Str("type", typ).Msg("discard unreadable draft")
		_ = s.kv.Delete(keyPrefix + typ)
		return Draft{}, false
	}
	if d.Age(s.now()) > MaxAge {
		_ = s.kv.Delete(keyPrefix + typ)
		return Draft{}, false
	}
	return d, true
}

// Clear 取消待写入的保存并删除已存草稿。
func (s *Store) Clear(typ string) {
	s.mu.Lock()
	if p, ok := s.pending[typ]; ok {
		p.timer.Stop()
		delete(s.pending, typ)
	}
	s.mu.Unlock()
	if err := s.kv.Delete(keyPrefix + typ); err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("clear draft")
	}
}

// Flush 立即写入所有待保存内容。
func (s *Store) Flush() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*pendingSave)
	s.mu.Unlock()
	for typ, p := range pending {
		p.timer.Stop()
		s.write(typ, p.content)
	}
}

// Close 写入待保存内容，之后的 Save 被忽略。
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Flush()
}
