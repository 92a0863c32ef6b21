package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/metrics"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/models"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/realtime"
	"github.com/rs/zerolog/log"

	"gorm.io/gorm"
)

// NotificationService 封装通知的写入、查询与已读标记。
type NotificationService struct {
	db     *gorm.DB
	broker realtime.Broker
}

func NewNotificationService(db *gorm.DB, broker realtime.Broker) *NotificationService {
	return &NotificationService{db: db, broker: broker}
}

// Create 为 userID 写入一条通知，actorID 为触发者。
func (s *NotificationService) Create(ctx context.Context, userID, actorID uint, kind, body string) (*protocol.Notification, error) {
	kind = strings.TrimSpace(kind)
	if userID == 0 || kind == "" || len(kind) > 32 || strings.TrimSpace(body) == "" {
		return nil, ErrInvalidInput
	}
	n := models.Notification{UserID: userID, ActorID: actorID, Kind: kind, Body: body}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return nil, err
	}
	metrics.NotificationsTotal.Inc()

	out := toNotification(n)
	s.publish(ctx, userID, protocol.ChangeInsert, out, n.CreatedAt)
	return out, nil
}

// List 返回 userID 最新的通知，按 id 降序。
func (s *NotificationService) List(userID uint, limit int) ([]protocol.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.Notification
	if err := s.db.Where("user_id = ?", userID).Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]protocol.Notification, 0, len(rows))
	for _, n := range rows {
		out = append(out, *toNotification(n))
	}
	return out, nil
}

func (s *NotificationService) UnreadCount(userID uint) (int64, error) {
	var n int64
	err := s.db.Model(&models.Notification{}).Where("user_id = ? AND read_at IS NULL", userID).Count(&n).Error
	return n, err
}

// MarkAllRead 标记 userID 的全部通知为已读。
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", &now)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, userID, protocol.ChangeUpdate, &protocol.Notification{UserID: userID, ReadAt: &now}, now)
	}
	return res.RowsAffected, nil
}

func (s *NotificationService) publish(ctx context.Context, userID uint, ev protocol.ChangeEvent, rec *protocol.Notification, at time.Time) {
	if s.broker == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("marshal notification change")
		return
	}
	change := protocol.Change{Table: protocol.TableNotifications, Event: ev, Record: raw, CommitTimestamp: at}
	if err := s.broker.Publish(ctx, protocol.UserTopic(userID), change); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Str("event", string(ev)).Msg("publish notification change")
	}
}

func toNotification(n models.Notification) *protocol.Notification {
	return &protocol.Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      n.Kind,
		Body:      n.Body,
		ActorID:   n.ActorID,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}
