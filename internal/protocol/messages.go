// Package protocol 定义实时 websocket 上交换的 JSON 信封，以及表接口与客户端共用的 DTO。
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType 标识实时信封的类型。
type MessageType string

const (
	// 客户端 -> 服务端
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypeTrack       MessageType = "track"

	// 服务端 -> 客户端
	TypeSubscribed    MessageType = "subscribed"
	TypePresenceState MessageType = "presence_state"
	TypePresenceDiff  MessageType = "presence_diff"
	TypeChange        MessageType = "change"
	TypeError         MessageType = "error"
)

// Envelope 包装所有实时消息，Topic 为所属频道。
type Envelope struct {
	Type  MessageType     `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PresenceRecord 是客户端 track 时发布的负载。
type PresenceRecord struct {
	UserID   uint      `json:"user_id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	OnlineAt time.Time `json:"online_at"`
}

// PresenceState 把 presence key（用户 id）映射到其下的全部记录，每条连接一条。
type PresenceState map[string][]PresenceRecord

// Clone 返回深拷贝。
func (s PresenceState) Clone() PresenceState {
	out := make(PresenceState, len(s))
	for k, v := range s {
		out[k] = append([]PresenceRecord(nil), v...)
	}
	return out
}

// PresenceDiff 在记录加入或离开 topic 时广播。
type PresenceDiff struct {
	Joins  PresenceState `json:"joins"`
	Leaves PresenceState `json:"leaves"`
}

// PresenceEventType 是频道暴露的 presence 回调类型。
type PresenceEventType string

const (
	PresenceSync  PresenceEventType = "sync"
	PresenceJoin  PresenceEventType = "join"
	PresenceLeave PresenceEventType = "leave"
)

// PresenceEvent 投递给 presence 处理函数；sync 事件的 Key 与 Presences 为空。
type PresenceEvent struct {
	Type      PresenceEventType
	Key       string
	Presences []PresenceRecord
}

// ChangeEvent 是变更信封携带的行变更种类。
type ChangeEvent string

const (
	ChangeInsert ChangeEvent = "INSERT"
	ChangeUpdate ChangeEvent = "UPDATE"
	ChangeDelete ChangeEvent = "DELETE"
)

// 变更事件使用的表名。
const (
	TableMessages      = "messages"
	TableNotifications = "notifications"
)

// Change 是行级变更流事件。
type Change struct {
	Table           string          `json:"table"`
	Event           ChangeEvent     `json:"event"`
	Record          json.RawMessage `json:"record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// ErrorMessage 在 topic 上的请求失败时由服务端发送。
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// 错误码
const (
	ErrCodeForbidden  = "forbidden"
	ErrCodeInvalidMsg = "invalid_message"
	ErrCodeNotJoined  = "not_joined"
)

// SubscribeStatus 随订阅进展上报给频道订阅方。
type SubscribeStatus string

const (
	StatusPending    SubscribeStatus = "pending"
	StatusSubscribed SubscribeStatus = "subscribed"
	StatusClosed     SubscribeStatus = "closed"
	StatusError      SubscribeStatus = "channel_error"
)

// OnlineUsersTopic 是每个客户端都会 track 自身的全局 presence topic。
const OnlineUsersTopic = "online-users"

// UserTopic 是承载单个用户变更事件的私有 topic。
func UserTopic(userID uint) string {
	return "user:" + formatUint(userID)
}

// PresenceKey 返回用户记录所在的 key。
func PresenceKey(userID uint) string {
	return formatUint(userID)
}

// NewEnvelope 用给定类型、topic 与数据创建信封。
func NewEnvelope(msgType MessageType, topic string, data interface{}) (*Envelope, error) {
	env := &Envelope{Type: msgType, Topic: topic}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	env.Data = raw
	return env, nil
}

// Encode 一步完成信封序列化。
func Encode(msgType MessageType, topic string, data interface{}) ([]byte, error) {
	env, err := NewEnvelope(msgType, topic, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope 把 JSON 消息解析为信封。
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
