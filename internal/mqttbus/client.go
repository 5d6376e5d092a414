// Package mqttbus wraps an MQTT connection used both to publish Qibla
// readings and to receive heading samples from a remote sensor.
package mqttbus

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	ConnectTimeout time.Duration
	Log            logrus.FieldLogger
}

// conn is the subset of mqtt.Client used here.
type conn interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

type Client struct {
	c       conn
	log     logrus.FieldLogger
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]func([]byte)
}

// DefaultClientID is unique per process so two daemons on one broker do not
// kick each other off.
func DefaultClientID() string {
	return "qibla-ng-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Connect dials the broker and waits up to ConnectTimeout for the session.
// The client reconnects on its own afterwards and restores subscriptions.
func Connect(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	lg := cfg.Log
	if lg == nil {
		lg = logrus.StandardLogger()
	}

	cl := &Client{
		log:     lg.WithField("component", "mqtt"),
		timeout: cfg.ConnectTimeout,
		subs:    make(map[string]func([]byte)),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) { cl.onConnect() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			cl.log.Warnf("mqtt connection lost: %v", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	cl.c = mqtt.NewClient(opts)

	if err := cl.wait(cl.c.Connect()); err != nil {
		return nil, errors.Wrapf(err, "mqtt connect %s", cfg.Broker)
	}
	cl.log.Infof("mqtt connected broker=%s client_id=%s", cfg.Broker, cfg.ClientID)
	return cl, nil
}

func newWithConn(c conn, lg logrus.FieldLogger) *Client {
	return &Client{c: c, log: lg, timeout: time.Second, subs: make(map[string]func([]byte))}
}

func (c *Client) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(c.timeout) {
		return errors.New("timeout")
	}
	return tok.Error()
}

// onConnect restores subscriptions after a reconnect with a clean session.
func (c *Client) onConnect() {
	c.mu.Lock()
	subs := make(map[string]func([]byte), len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	c.mu.Unlock()
	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.log.Warnf("mqtt resubscribe %s: %v", topic, err)
		}
	}
}

// Publish sends payload at QoS 0.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	return errors.Wrapf(c.wait(c.c.Publish(topic, 0, retained, payload)), "mqtt publish %s", topic)
}

func (c *Client) PublishJSON(topic string, retained bool, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal mqtt payload")
	}
	return c.Publish(topic, retained, b)
}

// Subscribe registers handler for topic. Handlers run on the MQTT client's
// goroutine and must not block.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler func([]byte)) error {
	tok := c.c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	return errors.Wrapf(c.wait(tok), "mqtt subscribe %s", topic)
}

func (c *Client) Close() {
	if c == nil || c.c == nil {
		return
	}
	c.c.Disconnect(250)
}
