package mqttbus

import (
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
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

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeConn struct {
	pubs       []published
	handlers   map[string]mqtt.MessageHandler
	pubErr     error
	subTimeout bool
	disconnect bool
}

func (f *fakeConn) Connect() mqtt.Token { return fakeToken{} }
func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.pubs = append(f.pubs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return fakeToken{err: f.pubErr}
}
func (f *fakeConn) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.MessageHandler)
	}
	f.handlers[topic] = cb
	return fakeToken{timeout: f.subTimeout}
}
func (f *fakeConn) Disconnect(uint) { f.disconnect = true }

func newTestClient(fc *fakeConn) *Client {
	lg, _ := test.NewNullLogger()
	return newWithConn(fc, lg)
}

func TestPublishJSON(t *testing.T) {
	fc := &fakeConn{}
	c := newTestClient(fc)
	if err := c.PublishJSON("qibla/output", true, map[string]bool{"is_facing": true}); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}
	if len(fc.pubs) != 1 {
		t.Fatalf("pubs=%d want 1", len(fc.pubs))
	}
	p := fc.pubs[0]
	if p.topic != "qibla/output" || !p.retained || string(p.payload) != `{"is_facing":true}` {
		t.Fatalf("published=%+v", p)
	}
}

func TestPublishError(t *testing.T) {
	boom := errors.New("boom")
	c := newTestClient(&fakeConn{pubErr: boom})
	err := c.Publish("t", false, []byte("x"))
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("err=%v want wrapped boom", err)
	}
}

func TestSubscribeDeliversAndRestores(t *testing.T) {
	fc := &fakeConn{}
	c := newTestClient(fc)
	var got []string
	if err := c.Subscribe("qibla/compass", func(p []byte) { got = append(got, string(p)) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	fc.handlers["qibla/compass"](nil, fakeMessage{topic: "qibla/compass", payload: []byte("a")})

	// Simulate a reconnect that dropped the broker-side subscription.
	delete(fc.handlers, "qibla/compass")
	c.onConnect()
	h, ok := fc.handlers["qibla/compass"]
	if !ok {
		t.Fatalf("subscription not restored")
	}
	h(nil, fakeMessage{payload: []byte("b")})
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("got=%v want [a b]", got)
	}
}

func TestSubscribeTimeout(t *testing.T) {
	c := newTestClient(&fakeConn{subTimeout: true})
	if err := c.Subscribe("x", func([]byte) {}); err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("err=%v want timeout", err)
	}
}

func TestDefaultClientID(t *testing.T) {
	a, b := DefaultClientID(), DefaultClientID()
	if !strings.HasPrefix(a, "qibla-ng-") || a == b {
		t.Fatalf("ids=%q,%q", a, b)
	}
}

func TestConnect_RequiresBroker(t *testing.T) {
	if _, err := Connect(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClose(t *testing.T) {
	fc := &fakeConn{}
	newTestClient(fc).Close()
	if !fc.disconnect {
		t.Fatalf("expected disconnect")
	}
	var nilClient *Client
	nilClient.Close()
}
