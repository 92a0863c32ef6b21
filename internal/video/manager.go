// Package video 保证 feed 中同一时刻最多只有一个已登记的视频在播放。
package video

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Element 是 feed 中可播放的视频，实现必须可比较（通常为指针类型）。
type Element interface {
	Play(ctx context.Context) error
	Pause()
	Paused() bool
	// Attached 报告元素是否仍挂在可见页面上。
	Attached() bool
}

const DefaultSweepInterval = 30 * time.Second

// Manager 是 feed 视频登记表，每个 feed 用 NewManager 创建、用 Close 释放。
type Manager struct {
	log zerolog.Logger

	mu      sync.Mutex
	videos  map[string]Element
	current string

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewManager 启动定期清理，每隔 interval 移除已脱离页面的元素。
func NewManager(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	m := &Manager{
		log:    log.Logger.With().Str("component", "video").Logger(),
		videos: make(map[string]Element),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go m.sweepLoop(interval)
	return m
}

// Play 暂停上一个播放中的元素，把 el 登记为 id 并开始播放；播放被拒绝只记录日志。
// el.Play 返回时若 el 已不是当前播放项（期间有其他 Play 或 Pause），立即暂停 el。
func (m *Manager) Play(ctx context.Context, id string, el Element) {
	m.mu.Lock()
	if m.current != "" && m.current != id {
		if prev, ok := m.videos[m.current]; ok {
			prev.Pause()
		}
	}
	m.videos[id] = el
	m.current = id
	m.mu.Unlock()

	if err := el.Play(ctx); err != nil {
		m.log.Warn().Err(err).Str("video_id", id).Msg("play rejected")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != id || m.videos[id] != el {
		el.Pause()
	}
}

// Pause 暂停 id；若 id 持有播放标记则一并清除。
func (m *Manager) Pause(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.videos[id]; ok && !el.Paused() {
		el.Pause()
	}
	if m.current == id {
		m.current = ""
	}
}

// PauseAll 暂停所有已登记元素并清除播放标记。
func (m *Manager) PauseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, el := range m.videos {
		el.Pause()
	}
	m.current = ""
}

// IsPlaying 报告 id 是否持有播放标记且未暂停。
func (m *Manager) IsPlaying(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != id || id == "" {
		return false
	}
	el, ok := m.videos[id]
	return ok && !el.Paused()
}

// Current 返回持有播放标记的 id，没有则为空。
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.videos)
}

// Sweep 移除已脱离页面的元素并返回移除数量。
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, el := range m.videos {
		if el.Attached() {
			continue
		}
		delete(m.videos, id)
		if m.current == id {
			m.current = ""
		}
		n++
	}
	return n
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug().Int("evicted", n).Msg("video sweep")
			}
		}
	}
}

// Close 停止定期清理并暂停全部元素。
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
		m.PauseAll()
	})
}
