package radio

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool { return false }
func (m fakeMessage) Qos() byte { return 1 }
func (m fakeMessage) Retained() bool { return false }
func (m fakeMessage) Topic() string { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte { return m.payload }
func (m fakeMessage) Ack() {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	published    []published
	subscribed   []string
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return fakeToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, qos, retained, string(payload.([]byte))})
	return fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return fakeToken{}
}

func (c *fakeClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func newTestMQTT(client *fakeClient) *MQTTLink {
	return newMQTTLink(MQTTConfig{Broker: "tcp://broker:1883", Prefix: "air/node1", BufferSize: 3}, client)
}

func TestMQTTLink_Defaults(t *testing.T) {
	l := newMQTTLink(MQTTConfig{}, &fakeClient{})
	assert.Equal(t, "air-sensor", l.cfg.ClientID)
	assert.Equal(t, "air/air-sensor", l.cfg.Prefix)
	assert.Equal(t, 64, l.cfg.BufferSize)
}

func TestMQTTLink_StartConnectError(t *testing.T) {
	l := newTestMQTT(&fakeClient{connectErr: errors.New("bad url")})
	err := l.Start()
	assert.ErrorIs(t, err, ErrInitFailure)
}

func TestMQTTLink_PublishTopics(t *testing.T) {
	client := &fakeClient{}
	l := newTestMQTT(client)
	require.NoError(t, l.Start())

	require.NoError(t, l.Notify(CharLive, []byte("1,2,3,4")))
	require.NoError(t, l.SetValue(CharChunkInfo, []byte("3,0")))
	require.NoError(t, l.StartAdvertising())
	require.NoError(t, l.StopAdvertising())

	assert.Equal(t, []published{
		{"air/node1/live", 0, false, "1,2,3,4"},
		{"air/node1/chunk_info", 1, true, "3,0"},
		{"air/node1/advertising", 1, true, "1"},
		{"air/node1/advertising", 1, true, "0"},
	}, client.published)
}

func TestMQTTLink_OfflineQueueReplayedOnConnect(t *testing.T) {
	client := &fakeClient{}
	l := newTestMQTT(client)

	require.NoError(t, l.Notify(CharLive, []byte("a")))
	require.NoError(t, l.Notify(CharHistory, []byte("h1")))
	require.NoError(t, l.Notify(CharLive, []byte("b")))
	for _, v := range []string{"h2", "h3", "h4"} {
		require.NoError(t, l.Notify(CharHistory, []byte(v)))
	}
	require.NoError(t, l.SetValue(CharChunkInfo, []byte("3,0")))
	require.NoError(t, l.Notify(CharLive, []byte("c")))
	assert.Empty(t, client.published)
	assert.Equal(t, 5, l.offline.len(), "three history chunks plus one value per latest topic")

	client.setConnected(true)
	l.onConnect()

	assert.ElementsMatch(t, []string{"air/node1/+/set", "air/node1/peer"}, client.subscribed)
	assert.Equal(t, []published{
		{"air/node1/status", 1, true, "online"},
		{"air/node1/history", 0, false, "h2"},
		{"air/node1/history", 0, false, "h3"},
		{"air/node1/history", 0, false, "h4"},
		{"air/node1/chunk_info", 1, true, "3,0"},
		{"air/node1/live", 0, false, "c"},
	}, client.published, "history oldest dropped and ordered, live coalesced to newest")
	assert.Zero(t, l.offline.len())
}

func TestMQTTLink_OfflineAdvertisingKeepsNewest(t *testing.T) {
	client := &fakeClient{}
	l := newTestMQTT(client)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.StartAdvertising())
		require.NoError(t, l.StopAdvertising())
	}
	require.NoError(t, l.SetValue(CharBattery, []byte("80")))
	assert.Equal(t, 2, l.offline.len())

	client.setConnected(true)
	l.onConnect()

	require.Len(t, client.published, 3)
	assert.Equal(t, published{"air/node1/advertising", 1, true, "0"}, client.published[1])
	assert.Equal(t, published{"air/node1/battery", 1, true, "80"}, client.published[2])
}

func TestMQTTLink_PeerAndWriteEvents(t *testing.T) {
	l := newTestMQTT(&fakeClient{})

	l.onPeer(nil, fakeMessage{topic: "air/node1/peer", payload: []byte("connected")})
	l.onSet(nil, fakeMessage{topic: "air/node1/chunk_request/set", payload: []byte("-1")})
	l.onSet(nil, fakeMessage{topic: "air/node1/clock/set", payload: []byte("1720000000")})
	l.onSet(nil, fakeMessage{topic: "air/node1/bogus/set", payload: []byte("x")})
	l.onSet(nil, fakeMessage{topic: "other/clock/set", payload: []byte("x")})
	l.onPeer(nil, fakeMessage{topic: "air/node1/peer", payload: []byte("0")})
	l.onPeer(nil, fakeMessage{topic: "air/node1/peer", payload: []byte("maybe")})

	var got []Event
	for len(l.Events()) > 0 {
		got = append(got, <-l.Events())
	}
	assert.Equal(t, []Event{
		{Kind: EventConnected},
		{Kind: EventWrite, Char: CharChunkRequest, Value: []byte("-1")},
		{Kind: EventWrite, Char: CharClock, Value: []byte("1720000000")},
		{Kind: EventDisconnected},
	}, got)
}

func TestMQTTLink_EventQueueDropsWhenFull(t *testing.T) {
	l := newTestMQTT(&fakeClient{})
	for i := 0; i < eventBuffer+5; i++ {
		l.onPeer(nil, fakeMessage{payload: []byte("1")})
	}
	assert.Len(t, l.Events(), eventBuffer)
}

func TestMQTTLink_CloseAnnouncesOffline(t *testing.T) {
	client := &fakeClient{}
	l := newTestMQTT(client)
	require.NoError(t, l.Start())
	require.NoError(t, l.Close())

	require.NotEmpty(t, client.published)
	assert.Equal(t, published{"air/node1/status", 1, true, "offline"}, client.published[len(client.published)-1])
	assert.True(t, client.disconnected)
}

func TestCharNames(t *testing.T) {
	for c := CharLive; c < numChars; c++ {
		got, ok := CharByName(c.String())
		assert.True(t, ok)
		assert.Equal(t, c, got)
		assert.NotEqual(t, c.UUID(), ServiceUUID)
	}
	_, ok := CharByName("nope")
	assert.False(t, ok)
	assert.Equal(t, "unknown", Char(42).String())
}
