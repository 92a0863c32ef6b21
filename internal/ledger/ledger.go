// Package ledger 保存后端尚未确认的本地发出消息，供往返完成前先行渲染。
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status 是乐观消息的生命周期状态。
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message 是用户刚发出消息的本地副本。
type Message struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	SenderID     uint      `json:"sender_id"`
	ReceiverID   uint      `json:"receiver_id"`
	CreatedAt    time.Time `json:"created_at"`
	Status       Status    `json:"status"`
	IsOptimistic bool      `json:"is_optimistic"`
}

// Ledger 是按插入顺序保存乐观消息的内存列表，不限长度，切换会话或登出时由调用方清空。
type Ledger struct {
	mu    sync.RWMutex
	items []Message
	now   func() time.Time
	newID func() string
}

func New() *Ledger {
	return &Ledger{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Add 追加一条 sending 记录并返回其 id，用于关联后端往返。
func (l *Ledger) Add(content string, senderID, receiverID uint) string {
	id := l.newID()
	l.mu.Lock()
	l.items = append(l.items, Message{
		ID:           id,
		Content:      content,
		SenderID:     senderID,
		ReceiverID:   receiverID,
		CreatedAt:    l.now(),
		Status:       StatusSending,
		IsOptimistic: true,
	})
	l.mu.Unlock()
	return id
}

// UpdateStatus 把记录改为 status；未知 id 忽略，以最后到达的更新为准。
func (l *Ledger) UpdateStatus(id string, status Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			l.items[i].Status = status
			return
		}
	}
}

// Remove 删除指定 id 的记录，返回是否有记录被删除。
func (l *Ledger) Remove(id string) bool {
	return l.filter(func(m Message) bool { return m.ID == id }) > 0
}

// RemoveByContent 删除内容与发送者都匹配的全部记录并返回删除条数。
// 不比较接收者，同时发给两人的相同文本会一起被删除。
func (l *Ledger) RemoveByContent(content string, senderID uint) int {
	return l.filter(func(m Message) bool { return m.Content == content && m.SenderID == senderID })
}

// PruneFailed 删除 cutoff 之前创建的 failed 记录。
func (l *Ledger) PruneFailed(cutoff time.Time) int {
	return l.filter(func(m Message) bool { return m.Status == StatusFailed && m.CreatedAt.Before(cutoff) })
}

// Clear 清空列表。
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}

// Get 返回指定 id 记录的副本。
func (l *Ledger) Get(id string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.items {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Messages 按插入顺序返回快照。
func (l *Ledger) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.items))
	copy(out, l.items)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *Ledger) filter(drop func(Message) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.items[:0]
	removed := 0
	for _, m := range l.items {
		if drop(m) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	// 清空尾部，避免底层数组继续引用已删除的记录
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = Message{}
	}
	l.items = kept
	return removed
}
