package overlay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	publishTimeout = 2 * time.Second
	connectTimeout = 10 * time.Second
)

// ConnectMQTT connects to the broker in cfg and waits for the handshake.
// It returns nil, nil when no broker is configured.
func ConnectMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	if cfg.Broker == "" {
		zap.L().Info("mqtt disabled: no broker configured")
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "changemesh"
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		zap.L().Warn("mqtt connection lost, auto-reconnect will retry", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, eris.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, eris.Wrapf(err, "mqtt: connect to %s", cfg.Broker)
	}
	zap.L().Info("mqtt connected", zap.String("broker", cfg.Broker), zap.String("client_id", clientID))
	return client, nil
}

// ResultPublisher publishes analysis summaries to MQTT.
type ResultPublisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	topN          int

	mu   sync.RWMutex
	last *Summary
}

// NewResultPublisher wraps client. A nil client disables publishing.
func NewResultPublisher(client mqtt.Client, prefix string) *ResultPublisher {
	if prefix == "" {
		prefix = "changemesh"
	}
	return &ResultPublisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		topN:          DefaultTopChanges,
	}
}

// SummaryTopic is where run summaries go.
func (p *ResultPublisher) SummaryTopic() string {
	return fmt.Sprintf("%s/summary", p.publishPrefix)
}

// LegendTopic is where the legend of the latest run goes.
func (p *ResultPublisher) LegendTopic() string {
	return fmt.Sprintf("%s/legend", p.publishPrefix)
}

// Publish sends the summary and legend of r.
func (p *ResultPublisher) Publish(id string, r *AnalysisResult) error {
	if p.client == nil || !p.client.IsConnected() {
		return eris.New("mqtt: client not connected")
	}

	summary := r.Summarize(p.topN, time.Now())
	message := struct {
		ID string `json:"id,omitempty"`
		Summary
	}{ID: id, Summary: summary}

	if err := p.publishJSON(p.SummaryTopic(), message); err != nil {
		return err
	}
	if err := p.publishJSON(p.LegendTopic(), r.Legend()); err != nil {
		return err
	}

	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()

	zap.L().Info("published analysis summary",
		zap.String("id", id),
		zap.String("topic", p.SummaryTopic()),
		zap.Float64("change_pct", summary.ChangePercentage))
	return nil
}

func (p *ResultPublisher) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "mqtt: marshal payload for %s", topic)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return eris.Wrapf(token.Error(), "mqtt: publish to %s", topic)
	}
	return nil
}

// LastSummary returns the most recently published summary.
func (p *ResultPublisher) LastSummary() (*Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil, false
	}
	s := *p.last
	return &s, true
}

// SetQoS sets the publish QoS (0, 1 or 2).
func (p *ResultPublisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages are retained.
func (p *ResultPublisher) SetRetain(retain bool) { p.retain = retain }

// Close disconnects the underlying client.
func (p *ResultPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
