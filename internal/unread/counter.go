package unread

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval 是没有变更事件时的轮询周期。
const DefaultPollInterval = 15 * time.Second

// FetchFunc 从表接口读取当前计数。
type FetchFunc func(ctx context.Context) (int, error)

// Counter 保持单个未读计数最新：收到变更事件失效时重新拉取，否则固定间隔轮询；拉取失败保留旧值。
type Counter struct {
	name     string
	fetch    FetchFunc
	interval time.Duration
	onChange func(int)
	log      zerolog.Logger

	invalidate chan struct{}

	mu    sync.Mutex
	value int
}

// NewCounter 创建计数器，每次拉取到的值都回调 onChange。
func NewCounter(name string, fetch FetchFunc, interval time.Duration, onChange func(int)) *Counter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Counter{
		name:       name,
		fetch:      fetch,
		interval:   interval,
		onChange:   onChange,
		log:        log.Logger.With().Str("component", "unread").Str("counter", name).Logger(),
		invalidate: make(chan struct{}, 1),
	}
}

// Invalidate 请求重新拉取，从不阻塞；拉取执行前的多次调用合并为一次。
func (c *Counter) Invalidate() {
	select {
	case c.invalidate <- struct{}{}:
	default:
	}
}

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Run 先拉取一次，之后每次失效或定时触发时拉取，直到 ctx 结束。
func (c *Counter) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		case <-c.invalidate:
			c.refresh(ctx)
		}
	}
}

func (c *Counter) refresh(ctx context.Context) {
	n, err := c.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("fetch unread count")
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	c.value = n
	c.mu.Unlock()
	if c.onChange != nil {
		c.onChange(n)
	}
}
