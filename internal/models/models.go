package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	Avatar       string `gorm:"size:512"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message 是一条私信；CorrelationID 由客户端生成并原样回传，用于对齐乐观消息。
type Message struct {
	ID            uint       `gorm:"primaryKey"`
	CorrelationID string     `gorm:"index;size:64"`
	SenderID      uint       `gorm:"index:idx_msg_pair,priority:1;not null"`
	ReceiverID    uint       `gorm:"index:idx_msg_pair,priority:2;index:idx_msg_unread,priority:1;not null"`
	Content       string     `gorm:"type:text;not null"`
	ReadAt        *time.Time `gorm:"index:idx_msg_unread,priority:2"`
	CreatedAt     time.Time
}

type Notification struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uint       `gorm:"index:idx_notif_unread,priority:1;not null"`
	Kind      string     `gorm:"size:32;not null"`
	Body      string     `gorm:"type:text;not null"`
	ActorID   uint
	ReadAt    *time.Time `gorm:"index:idx_notif_unread,priority:2"`
	CreatedAt time.Time
}
