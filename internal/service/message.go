package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/metrics"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/models"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/realtime"
	"github.com/rs/zerolog/log"

	"gorm.io/gorm"
)

const maxContentLen = 4000

// MessageService 封装私信相关的业务逻辑，写入后通过 Broker 推送 change 事件。
type MessageService struct {
	db     *gorm.DB
	broker realtime.Broker
}

func NewMessageService(db *gorm.DB, broker realtime.Broker) *MessageService {
	return &MessageService{db: db, broker: broker}
}

// Send 保存一条私信并把 INSERT 推送给收发双方；correlation_id 原样回传。
func (s *MessageService) Send(ctx context.Context, senderID uint, req protocol.SendMessageRequest) (*protocol.Message, error) {
	if strings.TrimSpace(req.Content) == "" || len(req.Content) > maxContentLen || req.ReceiverID == 0 || len(req.CorrelationID) > 64 {
		return nil, ErrInvalidInput
	}
	var receiver models.User
	if err := s.db.Select("id").First(&receiver, req.ReceiverID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m := models.Message{
		CorrelationID: req.CorrelationID,
		SenderID:      senderID,
		ReceiverID:    req.ReceiverID,
		Content:       req.Content,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	metrics.MessagesTotal.Inc()

	out := toMessage(m)
	s.publish(ctx, protocol.ChangeInsert, out, m.CreatedAt, senderID, req.ReceiverID)
	return out, nil
}

// List 分页查询与 peer 的会话，按 id 升序返回。
func (s *MessageService) List(userID, peerID uint, limit int, beforeID uint) ([]protocol.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userID, peerID, peerID, userID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	out := make([]protocol.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = *toMessage(m)
	}
	return out, nil
}

// UnreadCount 统计发给 userID 且未读的私信数。
func (s *MessageService) UnreadCount(userID uint) (int64, error) {
	var n int64
	err := s.db.Model(&models.Message{}).Where("receiver_id = ? AND read_at IS NULL", userID).Count(&n).Error
	return n, err
}

// MarkConversationRead 把 peer 发来的未读私信标记为已读，并向双方推送 UPDATE。
func (s *MessageService) MarkConversationRead(ctx context.Context, userID, peerID uint) (int64, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND read_at IS NULL", userID, peerID).
		Update("read_at", &now)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		rec := protocol.Message{SenderID: peerID, ReceiverID: userID, ReadAt: &now}
		s.publish(ctx, protocol.ChangeUpdate, &rec, now, userID, peerID)
	}
	return res.RowsAffected, nil
}

// publish 推送失败只记录日志，写库结果以数据库为准。
func (s *MessageService) publish(ctx context.Context, ev protocol.ChangeEvent, rec *protocol.Message, at time.Time, userIDs ...uint) {
	if s.broker == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("marshal message change")
		return
	}
	change := protocol.Change{Table: protocol.TableMessages, Event: ev, Record: raw, CommitTimestamp: at}
	seen := make(map[uint]bool, len(userIDs))
	for _, uid := range userIDs {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if err := s.broker.Publish(ctx, protocol.UserTopic(uid), change); err != nil {
			log.Warn().Err(err).Uint("user_id", uid).Str("event", string(ev)).Msg("publish message change")
		}
	}
}

func toMessage(m models.Message) *protocol.Message {
	return &protocol.Message{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Content:       m.Content,
		ReadAt:        m.ReadAt,
		CreatedAt:     m.CreatedAt,
	}
}
