// Package unread 把未读私信数与未读通知数合成为角标和标签页标题使用的一个数字。
package unread

import "sync"

// Total 返回两个上游计数之和。
func Total(messages, notifications int) int {
	return messages + notifications
}

// Aggregator 保存两个上游计数的最新值，每次更新都立即通知订阅者，不做防抖。
type Aggregator struct {
	// pub 串行化“写入 + 通知”，保证订阅者按写入顺序收到总数
	pub sync.Mutex

	mu            sync.Mutex
	messages      int
	notifications int
	subs          []func(total int)
}

func NewAggregator() *Aggregator { return &Aggregator{} }

// Subscribe 注册 fn 并立即以当前总数回调一次。fn 内不可再调用 Set*。
func (a *Aggregator) Subscribe(fn func(total int)) {
	a.pub.Lock()
	defer a.pub.Unlock()
	a.mu.Lock()
	a.subs = append(a.subs, fn)
	total := Total(a.messages, a.notifications)
	a.mu.Unlock()
	fn(total)
}

func (a *Aggregator) SetMessages(n int) {
	a.pub.Lock()
	defer a.pub.Unlock()
	a.mu.Lock()
	a.messages = n
	a.mu.Unlock()
	a.publish()
}

func (a *Aggregator) SetNotifications(n int) {
	a.pub.Lock()
	defer a.pub.Unlock()
	a.mu.Lock()
	a.notifications = n
	a.mu.Unlock()
	a.publish()
}

func (a *Aggregator) Messages() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messages
}

func (a *Aggregator) Notifications() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notifications
}

func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Total(a.messages, a.notifications)
}

// publish 调用方必须持有 pub。
func (a *Aggregator) publish() {
	a.mu.Lock()
	total := Total(a.messages, a.notifications)
	subs := append([]func(int){}, a.subs...)
	a.mu.Unlock()
	for _, fn := range subs {
		fn(total)
	}
}
