package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medscan-go/config"
	"medscan-go/internal/core/vision"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	retain  bool
	payload string
}

type fakePaho struct {
	opts *mqtt.ClientOptions

	mu         sync.Mutex
	connected  bool
	published  []published
	subscribed map[string]mqtt.MessageHandler
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() mqtt.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	if f.opts.OnConnect != nil {
		f.opts.OnConnect(f)
	}
	return doneToken{}
}
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}
func (f *fakePaho) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, retained, string(payload.([]byte))})
	return doneToken{}
}
func (f *fakePaho) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = cb
	return doneToken{}
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}
func (f *fakePaho) Unsubscribe(...string) mqtt.Token        { return doneToken{} }
func (f *fakePaho) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakePaho) OptionsReader() mqtt.ClientOptionsReader { return mqtt.NewOptionsReader(f.opts) }

func (f *fakePaho) deliver(topic, payload string) {
	f.mu.Lock()
	cb := f.subscribed[topic]
	f.mu.Unlock()
	cb(f, fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	c := NewClient(config.MQTTConfig{Enabled: true, Broker: "localhost", Port: 1883, ClientID: "test", TopicPrefix: "medscan"})
	fake := &fakePaho{subscribed: make(map[string]mqtt.MessageHandler)}
	c.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		fake.opts = opts
		return fake
	}
	return c, fake
}

func TestClientDisabled(t *testing.T) {
	c := NewClient(config.MQTTConfig{})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if c.IsConnected() {
		t.Error("disabled client must not connect")
	}
	if err := c.Publish("x", "y"); err == nil {
		t.Error("publish without connection should fail")
	}
}

func TestClientAvailabilityAndWill(t *testing.T) {
	c, fake := newTestClient(t)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if fake.opts.WillTopic != "medscan/status" || string(fake.opts.WillPayload) != PayloadOffline || !fake.opts.WillRetained {
		t.Errorf("will = %s %q retained=%v", fake.opts.WillTopic, fake.opts.WillPayload, fake.opts.WillRetained)
	}
	if len(fake.published) != 1 || fake.published[0].payload != PayloadOnline || !fake.published[0].retain {
		t.Fatalf("published = %+v", fake.published)
	}

	if err := c.Publish(c.Topic(TopicState), map[string]string{"label": "Ibuprofen"}); err != nil {
		t.Fatal(err)
	}
	if got := fake.published[1]; got.payload != `{"label":"Ibuprofen"}` || got.retain {
		t.Errorf("state = %+v", got)
	}

	c.Stop()
	last := fake.published[len(fake.published)-1]
	if last.payload != PayloadOffline || last.topic != "medscan/status" {
		t.Errorf("last = %+v", last)
	}
}

type fakeController struct {
	mu      sync.Mutex
	toggles int
	retries int
	err     error
	called  chan string
}

func (f *fakeController) ToggleFacing(context.Context) (vision.Facing, error) {
	f.mu.Lock()
	f.toggles++
	f.mu.Unlock()
	f.called <- CommandToggleFacing
	return vision.FacingFront, f.err
}

func (f *fakeController) Retry(context.Context) error {
	f.mu.Lock()
	f.retries++
	f.mu.Unlock()
	f.called <- CommandRetryCamera
	return f.err
}

func TestCommandsDispatched(t *testing.T) {
	c, fake := newTestClient(t)
	ctrl := &fakeController{called: make(chan string, 4)}
	c.RegisterHandler(c.Topic(TopicCommand), NewCommandHandler(ctrl, time.Second))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.subscribed["medscan/command"]; !ok {
		t.Fatal("command topic not subscribed on connect")
	}

	fake.deliver("medscan/command", " Toggle_Facing\n")
	fake.deliver("medscan/command", "retry_camera")
	fake.deliver("medscan/command", "reboot")

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case cmd := <-ctrl.called:
			got[cmd] = true
		case <-time.After(time.Second):
			t.Fatal("command not executed")
		}
	}
	if !got[CommandToggleFacing] || !got[CommandRetryCamera] {
		t.Errorf("executed %v", got)
	}
}

func TestCommandErrorsAreLogged(t *testing.T) {
	ctrl := &fakeController{called: make(chan string, 2), err: errors.New("no camera")}
	h := NewCommandHandler(ctrl, 0)
	h.HandleMessage("medscan/command", []byte(CommandRetryCamera))
	if ctrl.retries != 1 {
		t.Errorf("retries = %d", ctrl.retries)
	}
}

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"online", "online"},
		{[]byte("raw"), "raw"},
		{42, "42"},
		{true, "true"},
		{map[string]float64{"confidence": 0.5}, `{"confidence":0.5}`},
	}
	for _, tt := range tests {
		got, err := encodePayload(tt.in)
		if err != nil {
			t.Fatalf("encodePayload(%v): %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Errorf("encodePayload(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := encodePayload(make(chan int)); err == nil {
		t.Error("expected error for unsupported payload")
	}
}
