// Package chat 乐观发送私信，并与变更流中到达的权威记录对账。
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/ledger"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage  = errors.New("chat: empty message")
	ErrSessionClosed = errors.New("chat: session closed")
)

// Sender 通过表接口提交消息。
type Sender interface {
	SendMessage(ctx context.Context, req protocol.SendMessageRequest) (*protocol.Message, error)
}

// Session 绑定一个已挂载的聊天视图；关闭后取消其作用域，之后到达的发送结果与变更事件都被丢弃。
type Session struct {
	senderID uint
	api      Sender
	ledger   *ledger.Ledger
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSession(parent context.Context, api Sender, senderID uint) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		senderID: senderID,
		api:      api,
		ledger:   ledger.New(),
		log:      log.Logger.With().Str("component", "chat").Uint("sender_id", senderID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ledger 暴露乐观记录供渲染。
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Send 添加乐观记录，以记录 id 作为 correlation id 提交消息，并标记为 sent 或 failed。
// 两种情况都返回 id，失败不重试。
func (s *Session) Send(ctx context.Context, receiverID uint, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}
	if s.ctx.Err() != nil {
		return "", ErrSessionClosed
	}
	id := s.ledger.Add(content, s.senderID, receiverID)

	_, err := s.api.SendMessage(ctx, protocol.SendMessageRequest{
		ReceiverID:    receiverID,
		Content:       content,
		CorrelationID: id,
	})
	if s.ctx.Err() != nil {
		return id, ErrSessionClosed
	}
	if err != nil {
		s.ledger.UpdateStatus(id, ledger.StatusFailed)
		s.log.Warn().Err(err).Str("correlation_id", id).Uint("receiver_id", receiverID).Msg("send message")
		return id, err
	}
	s.ledger.UpdateStatus(id, ledger.StatusSent)
	return id, nil
}

// Discard 删除一条记录，通常是用户关闭的失败消息。
func (s *Session) Discard(id string) bool {
	return s.ledger.Remove(id)
}

// HandleChange 用权威消息对账：带回 correlation id 的记录精确匹配，其余按内容与发送者匹配。
func (s *Session) HandleChange(change protocol.Change) {
	if s.ctx.Err() != nil {
		return
	}
	if change.Table != protocol.TableMessages || change.Event != protocol.ChangeInsert {
		return
	}
	var msg protocol.Message
	if err := json.Unmarshal(change.Record, &msg); err != nil {
		s.log.Debug().Err(err).Msg("decode message change")
		return
	}
	if msg.SenderID != s.senderID {
		return
	}
	if msg.CorrelationID != "" && s.ledger.Remove(msg.CorrelationID) {
		return
	}
	s.ledger.RemoveByContent(msg.Content, msg.SenderID)
}

// Close 取消会话作用域并清空 ledger。
func (s *Session) Close() {
	s.cancel()
	s.ledger.Clear()
}
