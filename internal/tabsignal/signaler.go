// Package tabsignal 把未读总数写进页面标题和 favicon，静态角标或闪烁提醒二选一。
package tabsignal

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Document 是 Signaler 写入的页面表面。
type Document interface {
	Title() string
	SetTitle(title string)
	Favicon() string
	SetFavicon(href string)
}

type Mode int

const (
	// ModeBadge 在标题前加计数并换上角标 favicon。
	ModeBadge Mode = iota
	// ModeBlink 交替切换标题和 favicon，直到停止或页面重新可见。
	ModeBlink
)

// ParseMode 把 "badge"/"blink" 映射为 Mode，其余一律 ModeBadge。
func ParseMode(s string) Mode {
	if s == "blink" {
		return ModeBlink
	}
	return ModeBadge
}

const DefaultBlinkInterval = time.Second

type Option func(*Signaler)

func WithMode(m Mode) Option { return func(s *Signaler) { s.mode = m } }

func WithBlinkInterval(d time.Duration) Option {
	return func(s *Signaler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option { return func(s *Signaler) { s.log = l } }

// WithRenderer 替换 favicon 渲染函数。
func WithRenderer(r func(count int) (string, error)) Option {
	return func(s *Signaler) { s.render = r }
}

type Signaler struct {
	doc      Document
	mode     Mode
	interval time.Duration
	render   func(int) (string, error)
	log      zerolog.Logger

	// ctl 串行化 Start/Stop/Close
	ctl         sync.Mutex
	mu          sync.Mutex
	origTitle   string
	origFavicon string
	total       int
	blinkStop   chan struct{}
	blinkDone   chan struct{}
	closed      bool
}

// New 记录页面当前标题和 favicon 作为基线。
func New(doc Document, opts ...Option) *Signaler {
	s := &Signaler{
		doc:      doc,
		mode:     ModeBadge,
		interval: DefaultBlinkInterval,
		render:   RenderBadge,
		log:      log.Logger.With().Str("component", "tabsignal").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	s.origTitle = doc.Title()
	s.origFavicon = doc.Favicon()
	return s
}

func (s *Signaler) Mode() Mode { return s.mode }

// Update 反映新的未读总数。闪烁模式下只在总数上升时（重新）开始闪烁，
// 总数不变不会在页面可见后再次触发；总数归零则停止。
func (s *Signaler) Update(total int) {
	if total < 0 {
		total = 0
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev, blinking := s.total, s.blinkStop != nil
	s.total = total
	s.mu.Unlock()

	if s.mode == ModeBlink {
		switch {
		case total == 0:
			s.Stop()
		case total > prev, blinking && total != prev:
			s.Start(s.alertTitle(total))
		}
		return
	}

	if total == 0 {
		s.restore()
		return
	}
	s.doc.SetTitle(s.alertTitle(total))
	s.setBadge(total)
}

// Start 在 alert 与原标题之间开始闪烁；已在闪烁时只替换提醒文本。
func (s *Signaler) Start(alert string) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	closed, total := s.closed, s.total
	s.mu.Unlock()
	if closed {
		return
	}
	s.stopBlink()

	badge := ""
	if total > 0 {
		href, err := s.render(total)
		if err != nil {
			s.log.Warn().Err(err).Msg("render favicon badge")
		} else {
			badge = href
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	s.blinkStop, s.blinkDone = stop, done
	s.mu.Unlock()
	go s.blink(alert, badge, stop, done)
}

func (s *Signaler) blink(alert, badge string, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	on := true
	s.show(alert, badge)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			on = !on
			if on {
				s.show(alert, badge)
			} else {
				s.show(s.origTitle, s.origFavicon)
			}
		}
	}
}

func (s *Signaler) show(title, favicon string) {
	s.doc.SetTitle(title)
	if favicon != "" {
		s.doc.SetFavicon(favicon)
	}
}

// Stop 结束闪烁并恢复原标题和 favicon。
func (s *Signaler) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.stopBlink() {
		s.restore()
	}
}

// SetVisible 上报页面可见性；变为可见时停止闪烁。
func (s *Signaler) SetVisible(visible bool) {
	if visible {
		s.Stop()
	}
}

// Blinking 报告闪烁循环是否在运行。
func (s *Signaler) Blinking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blinkStop != nil
}

// Close 停止闪烁并恢复原标题；favicon 只在总数归零或 Stop 时恢复。
func (s *Signaler) Close() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stopBlink()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.doc.SetTitle(s.origTitle)
}

func (s *Signaler) stopBlink() bool {
	s.mu.Lock()
	stop, done := s.blinkStop, s.blinkDone
	s.blinkStop, s.blinkDone = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return false
	}
	close(stop)
	<-done
	return true
}

func (s *Signaler) restore() {
	s.doc.SetTitle(s.origTitle)
	s.doc.SetFavicon(s.origFavicon)
}

func (s *Signaler) setBadge(total int) {
	href, err := s.render(total)
	if err != nil {
		s.log.Warn().Err(err).Int("total", total).Msg("render favicon badge")
		return
	}
	s.doc.SetFavicon(href)
}

func (s *Signaler) alertTitle(total int) string {
	return "(" + strconv.Itoa(total) + ") " + s.origTitle
}
