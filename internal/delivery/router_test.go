package delivery

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joginder1706/backend-socket/internal/chat"
	"github.com/Joginder1706/backend-socket/internal/presence"
	"github.com/Joginder1706/backend-socket/internal/protocol"
)

type sent struct {
	to      string
	exclude []string
	event   map[string]interface{}
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []sent
	dead map[string]bool
}

func (t *recordingTransport) SendMessage(connID string, data []byte) error {
	if t.dead[connID] {
		return errors.New("connection closed")
	}
	t.add(sent{to: connID}, data)
	return nil
}

func (t *recordingTransport) BroadcastExcept(data []byte, exclude ...string) {
	ex := append([]string(nil), exclude...)
	sort.Strings(ex)
	t.add(sent{exclude: ex}, data)
}

func (t *recordingTransport) add(s sent, data []byte) {
	if err := json.Unmarshal(data, &s.event); err != nil {
		panic(err)
	}
	t.mu.Lock()
	t.sent = append(t.sent, s)
	t.mu.Unlock()
}

func (t *recordingTransport) byType(eventType string) []sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sent
	for _, s := range t.sent {
		if s.event["type"] == eventType {
			out = append(out, s)
		}
	}
	return out
}

func recipients(list []sent) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.to)
	}
	sort.Strings(out)
	return out
}

func setup(t *testing.T) (*presence.Registry, *recordingTransport, *Router) {
	t.Helper()
	reg := presence.NewRegistry()
	tr := &recordingTransport{dead: map[string]bool{}}
	return reg, tr, NewRouter(reg, tr)
}

func testMessage(sender, receiver chat.UserID) *chat.Message {
	return &chat.Message{
		ID:         42,
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       "hello",
		Timestamp:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		IsRead:     true,
	}
}

func TestDeliverMessage_BothGroupsAndOfflineNudge(t *testing.T) {
	reg, tr, r := setup(t)
	reg.Register("a1", 1)
	reg.Register("a2", 1)
	reg.Register("b1", 2)
	reg.Register("c1", 3)

	n := r.DeliverMessage(testMessage(1, 2), true)
	assert.Equal(t, 3, n)

	got := tr.byType(protocol.TypeReceiveMessage)
	assert.Equal(t, []string{"a1", "a2", "b1"}, recipients(got))
	assert.Equal(t, true, got[0].event["receiver_online"])
	msg := got[0].event["message"].(map[string]interface{})
	assert.Equal(t, float64(42), msg["id"])
	assert.Equal(t, "hello", msg["message_text"])

	nudges := tr.byType(protocol.TypeSendForOfflineUsers)
	require.Len(t, nudges, 1)
	assert.Equal(t, []string{"a1", "a2", "b1"}, nudges[0].exclude)
}

func TestDeliverMessage_ReceiverOffline(t *testing.T) {
	reg, tr, r := setup(t)
	reg.Register("a1", 1)

	n := r.DeliverMessage(testMessage(1, 2), false)
	assert.Equal(t, 1, n)

	got := tr.byType(protocol.TypeReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].to)
	assert.Equal(t, false, got[0].event["receiver_online"])

	nudges := tr.byType(protocol.TypeSendForOfflineUsers)
	require.Len(t, nudges, 1)
	assert.Equal(t, []string{"a1"}, nudges[0].exclude)
}

func TestDeliverMessage_SelfChat(t *testing.T) {
	reg, tr, r := setup(t)
	reg.Register("a1", 1)
	reg.Register("a2", 1)
	reg.Register("b1", 2)

	n := r.DeliverMessage(testMessage(1, 1), true)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a1", "a2"}, recipients(tr.byType(protocol.TypeReceiveMessage)))
	assert.Empty(t, tr.byType(protocol.TypeSendForOfflineUsers))
}

func TestDeliverMessage_SkipsDeadConnection(t *testing.T) {
	reg, tr, r := setup(t)
	reg.Register("a1", 1)
	reg.Register("b1", 2)
	tr.dead["b1"] = true

	n := r.DeliverMessage(testMessage(1, 2), true)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a1"}, recipients(tr.byType(protocol.TypeReceiveMessage)))
}

func TestDeliverMessage_ResolvesAtDeliveryTime(t *testing.T) {
	reg, tr, r := setup(t)
	reg.Register("a1", 1)
	reg.Register("b1", 2)
	reg.Unregister("b1")
	reg.Register("b2", 2)

	r.DeliverMessage(testMessage(1, 2), true)
	assert.Equal(t, []string{"a1", "b2"}, recipients(tr.byType(protocol.TypeReceiveMessage)))
}

func TestTyping_ReceiverOnly(t *testing.T) {
	reg, tr, r := setup(t)
	reg.Register("a1", 1)
	reg.Register("b1", 2)
	reg.Register("b2", 2)

	assert.Equal(t, 2, r.Typing(protocol.TypeTyping, 1, 2))
	assert.Equal(t, 2, r.Typing(protocol.TypeStopTyping, 1, 2))

	typing := tr.byType(protocol.TypeTyping)
	assert.Equal(t, []string{"b1", "b2"}, recipients(typing))
	assert.Equal(t, float64(1), typing[0].event["senderId"])
	assert.Equal(t, []string{"b1", "b2"}, recipients(tr.byType(protocol.TypeStopTyping)))
}

func TestTyping_ReceiverOffline(t *testing.T) {
	reg, tr, r := setup(t)
	reg.Register("a1", 1)

	assert.Equal(t, 0, r.Typing(protocol.TypeTyping, 1, 2))
	assert.Empty(t, tr.byType(protocol.TypeTyping))
}

func TestSenderRead_ExcludesCaller(t *testing.T) {
	_, tr, r := setup(t)

	r.SenderRead(99, "b1")

	got := tr.byType(protocol.TypeSenderRead)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"b1"}, got[0].exclude)
	assert.Equal(t, float64(99), got[0].event["messageId"])
}
