package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
)

func fakeClient(h *Hub, uid uint) *Client {
	return newClient(h, nil, Identity{UserID: uid, Username: "user"})
}

// next reads the next envelope of the given type, skipping others.
func next(t *testing.T, c *Client, typ protocol.MessageType) *protocol.Envelope {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case b := <-c.send:
			env, err := protocol.ParseEnvelope(b)
			if err != nil {
				t.Fatalf("ParseEnvelope() error = %v", err)
			}
			if env.Type == typ {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return nil
		}
	}
}

func decodeState(t *testing.T, env *protocol.Envelope) protocol.PresenceState {
	t.Helper()
	var st protocol.PresenceState
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil || hub.topics == nil {
		t.Fatal("NewHub() returned an uninitialised hub")
	}
	if hub.Online("online-users") != 0 {
		t.Error("Online() for unknown topic != 0")
	}
}

func TestTopic_SubscribeAck(t *testing.T) {
	hub := NewHub()
	topic := hub.GetTopic("online-users")
	c := fakeClient(hub, 1)

	topic.join <- c

	next(t, c, protocol.TypeSubscribed)
	st := decodeState(t, next(t, c, protocol.TypePresenceState))
	if len(st) != 0 {
		t.Errorf("initial state = %v, want empty", st)
	}
}

func TestTopic_TrackBroadcastsDiffAndState(t *testing.T) {
	hub := NewHub()
	topic := hub.GetTopic("online-users")
	a, b := fakeClient(hub, 1), fakeClient(hub, 2)
	topic.join <- a
	topic.join <- b
	next(t, a, protocol.TypePresenceState)
	next(t, b, protocol.TypePresenceState)

	topic.track <- trackReq{client: a, rec: protocol.PresenceRecord{UserID: 1, Username: "a"}}

	diffEnv := next(t, b, protocol.TypePresenceDiff)
	var diff protocol.PresenceDiff
	if err := json.Unmarshal(diffEnv.Data, &diff); err != nil {
		t.Fatal(err)
	}
	if len(diff.Joins["1"]) != 1 {
		t.Errorf("diff joins = %v, want user 1", diff.Joins)
	}
	st := decodeState(t, next(t, b, protocol.TypePresenceState))
	if len(st["1"]) != 1 {
		t.Errorf("state = %v, want user 1", st)
	}
	if hub.Online("online-users") != 1 {
		t.Errorf("Online() = %d, want 1", hub.Online("online-users"))
	}
}

func TestTopic_MultipleConnectionsSameUser(t *testing.T) {
	hub := NewHub()
	topic := hub.GetTopic("online-users")
	a1, a2 := fakeClient(hub, 1), fakeClient(hub, 1)
	topic.join <- a1
	topic.join <- a2
	topic.track <- trackReq{client: a1, rec: protocol.PresenceRecord{UserID: 1}}
	topic.track <- trackReq{client: a2, rec: protocol.PresenceRecord{UserID: 1}}

	var st protocol.PresenceState
	deadline := time.Now().Add(time.Second)
	for len(st["1"]) != 2 && time.Now().Before(deadline) {
		st = decodeState(t, next(t, a1, protocol.TypePresenceState))
	}
	if len(st["1"]) != 2 {
		t.Errorf("state[1] = %v, want two records", st["1"])
	}
}

func TestTopic_LeaveRemovesPresence(t *testing.T) {
	hub := NewHub()
	topic := hub.GetTopic("online-users")
	a, b := fakeClient(hub, 1), fakeClient(hub, 2)
	topic.join <- a
	topic.join <- b
	topic.track <- trackReq{client: a, rec: protocol.PresenceRecord{UserID: 1}}
	next(t, b, protocol.TypePresenceDiff)

	topic.leave <- a

	diffEnv := next(t, b, protocol.TypePresenceDiff)
	var diff protocol.PresenceDiff
	_ = json.Unmarshal(diffEnv.Data, &diff)
	if len(diff.Leaves["1"]) != 1 {
		t.Errorf("diff leaves = %v, want user 1", diff.Leaves)
	}
	st := decodeState(t, next(t, b, protocol.TypePresenceState))
	if len(st) != 0 {
		t.Errorf("state after leave = %v, want empty", st)
	}
	if hub.Online("online-users") != 0 {
		t.Errorf("Online() = %d, want 0", hub.Online("online-users"))
	}
}

func TestHub_RetiresEmptyTopic(t *testing.T) {
	hub := NewHub()
	a, b := fakeClient(hub, 1), fakeClient(hub, 2)
	topic := hub.Join("online-users", a)
	if hub.Join("online-users", b) != topic {
		t.Fatal("second Join() created a new topic")
	}

	topic.sendLeave(a)
	topic.sendLeave(b)
	select {
	case <-topic.quit:
	case <-time.After(time.Second):
		t.Fatal("topic not retired after the last member left")
	}
	hub.mu.RLock()
	_, ok := hub.topics["online-users"]
	hub.mu.RUnlock()
	if ok {
		t.Error("retired topic still registered")
	}

	// stale handles must not block
	topic.sendLeave(a)
	topic.sendTrack(trackReq{client: a})
	hub.Publish("online-users", protocol.Change{Table: protocol.TableMessages})

	c := fakeClient(hub, 3)
	fresh := hub.Join("online-users", c)
	if fresh == topic {
		t.Fatal("Join() reused a retired topic")
	}
	next(t, c, protocol.TypeSubscribed)
}

func TestTopic_TrackBeforeJoin(t *testing.T) {
	hub := NewHub()
	topic := hub.GetTopic("online-users")
	c := fakeClient(hub, 1)

	topic.track <- trackReq{client: c, rec: protocol.PresenceRecord{UserID: 1}}

	env := next(t, c, protocol.TypeError)
	var e protocol.ErrorMessage
	_ = json.Unmarshal(env.Data, &e)
	if e.Code != protocol.ErrCodeNotJoined {
		t.Errorf("error code = %q, want %q", e.Code, protocol.ErrCodeNotJoined)
	}
}

func TestHub_PublishChange(t *testing.T) {
	hub := NewHub()
	topic := hub.GetTopic(protocol.UserTopic(7))
	c := fakeClient(hub, 7)
	topic.join <- c
	next(t, c, protocol.TypeSubscribed)

	hub.Publish(protocol.UserTopic(7), protocol.Change{Table: protocol.TableMessages, Event: protocol.ChangeInsert, Record: json.RawMessage(`{"id":1}`)})

	env := next(t, c, protocol.TypeChange)
	var ch protocol.Change
	if err := json.Unmarshal(env.Data, &ch); err != nil {
		t.Fatal(err)
	}
	if ch.Table != protocol.TableMessages || ch.Event != protocol.ChangeInsert {
		t.Errorf("change = %+v", ch)
	}

	// publishing to a topic nobody joined is a no-op
	hub.Publish("user:999", protocol.Change{Table: protocol.TableMessages})
}

func TestHub_SlowConsumerIsKicked(t *testing.T) {
	hub := NewHub()
	topic := hub.GetTopic("online-users")
	c := fakeClient(hub, 1)
	c.send = make(chan []byte) // unbuffered and never read
	topic.join <- c

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("slow consumer was not disconnected")
	}
}

func TestCanJoin(t *testing.T) {
	tests := []struct {
		uid   uint
		topic string
		want  bool
	}{
		{1, "online-users", true},
		{1, "user:1", true},
		{1, "user:2", false},
		{1, "", false},
	}
	for _, tt := range tests {
		if got := CanJoin(tt.uid, tt.topic); got != tt.want {
			t.Errorf("CanJoin(%d, %q) = %v, want %v", tt.uid, tt.topic, got, tt.want)
		}
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("user:5"); got != "socialhub.changes.user:5" {
		t.Errorf("Subject() = %q", got)
	}
	if got := Subject("a.b"); got != "socialhub.changes.a_b" {
		t.Errorf("Subject() = %q", got)
	}
}
