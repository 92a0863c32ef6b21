package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// SubjectPrefix 是 change 事件在 NATS 上的主题前缀。
const SubjectPrefix = "socialhub.changes"

// Broker 把业务层产生的 change 事件送达 realtime 订阅者。
type Broker interface {
	Publish(ctx context.Context, topic string, change protocol.Change) error
	Close()
}

// LocalBroker 直接投递到本进程的 Hub，单实例部署使用。
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(h *Hub) *LocalBroker { return &LocalBroker{hub: h} }

func (b *LocalBroker) Publish(_ context.Context, topic string, change protocol.Change) error {
	b.hub.Publish(topic, change)
	return nil
}

func (b *LocalBroker) Close() {}

type natsEnvelope struct {
	Topic  string          `json:"topic"`
	Change protocol.Change `json:"change"`
}

// NATSBroker 通过 NATS 扇出 change 事件，使多个实例的订阅者都能收到。
type NATSBroker struct {
	nc  *nats.Conn
	sub *nats.Subscription
	hub *Hub
}

// NewNATSBroker 连接 NATS 并订阅全部 change 主题，收到后投递给本地 Hub。
func NewNATSBroker(url string, h *Hub) (*NATSBroker, error) {
	nc, err := nats.Connect(url, nats.Name("socialhub-realtime"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b := &NATSBroker{nc: nc, hub: h}
	sub, err := nc.Subscribe(SubjectPrefix+".>", b.onMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", SubjectPrefix, err)
	}
	b.sub = sub
	log.Info().Str("url", url).Msg("nats broker connected")
	return b, nil
}

func (b *NATSBroker) onMessage(m *nats.Msg) {
	var env natsEnvelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		log.Warn().Err(err).Str("subject", m.Subject).Msg("decode nats change")
		return
	}
	b.hub.Publish(env.Topic, env.Change)
}

func (b *NATSBroker) Publish(_ context.Context, topic string, change protocol.Change) error {
	data, err := json.Marshal(natsEnvelope{Topic: topic, Change: change})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := b.nc.Publish(Subject(topic), data); err != nil {
		return fmt.Errorf("failed to publish change to %s: %w", topic, err)
	}
	return nil
}

func (b *NATSBroker) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.nc.Close()
}

// Subject 把 topic 映射为 NATS 主题；topic 中的 '.' 会被替换以免拆成多级。
func Subject(topic string) string {
	return SubjectPrefix + "." + strings.ReplaceAll(topic, ".", "_")
}
