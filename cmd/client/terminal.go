package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// termDoc 把标签页标题渲染为终端窗口标题（OSC 0）；终端没有 favicon，只保存当前 href。
type termDoc struct {
	mu      sync.Mutex
	out     io.Writer
	title   string
	favicon string
}

func newTermDoc(out io.Writer, title string) *termDoc {
	d := &termDoc{out: out, favicon: "favicon.ico"}
	d.SetTitle(title)
	return d
}

func (d *termDoc) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

func (d *termDoc) SetTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.title = title
	// 控制字符会提前结束转义序列
	clean := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, title)
	fmt.Fprintf(d.out, "\x1b]0;%s\x07", clean)
}

func (d *termDoc) Favicon() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.favicon
}

func (d *termDoc) SetFavicon(href string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.favicon = href
}

// feedVideo 是终端 feed 中的一个片段，处于最近打印的若干条之内时保持挂载。
type feedVideo struct {
	mu       sync.Mutex
	out      io.Writer
	id       string
	paused   bool
	attached bool
}

func (v *feedVideo) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.attached {
		return fmt.Errorf("video %s is no longer in the feed", v.id)
	}
	v.paused = false
	fmt.Fprintf(v.out, "> playing %s\n", v.id)
	return nil
}

func (v *feedVideo) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.paused {
		v.paused = true
		fmt.Fprintf(v.out, "|| paused %s\n", v.id)
	}
}

func (v *feedVideo) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *feedVideo) Attached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attached
}

func (v *feedVideo) detach() {
	v.mu.Lock()
	v.attached = false
	v.mu.Unlock()
}

// feed 让最近的片段保持挂载，较早的片段脱离。
type feed struct {
	mu    sync.Mutex
	out   io.Writer
	size  int
	clips []*feedVideo
}

func newFeed(out io.Writer, size int) *feed {
	return &feed{out: out, size: size}
}

// get 返回 id 对应的片段，必要时加入 feed。
func (f *feed) get(id string) *feedVideo {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clips {
		if c.id == id {
			return c
		}
	}
	c := &feedVideo{out: f.out, id: id, paused: true, attached: true}
	f.clips = append(f.clips, c)
	for len(f.clips) > f.size {
		f.clips[0].detach()
		f.clips = f.clips[1:]
	}
	return c
}
