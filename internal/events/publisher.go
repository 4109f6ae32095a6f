// Package events publishes plan execution progress to an MQTT broker so
// dashboards and other agents can follow what the executor is doing.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/opera-os/opera/internal/config"
	"github.com/opera-os/opera/internal/types"
)

const (
	stepTopic = "%s/plans/%s/steps" // one message per finished step
	planTopic = "%s/plans/%s/result"

	publishTimeout = 5 * time.Second
)

// Event types
const (
	EventStepCompleted = "step_completed"
	EventPlanCompleted = "plan_completed"
)

// Client is the subset of the paho client the publisher uses, so tests can
// substitute it.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
}

// Event is the JSON payload of every published message.
type Event struct {
	Type      string                     `json:"type"`
	PlanID    string                     `json:"plan_id"`
	Step      *types.ExecutionResult     `json:"step,omitempty"`
	Result    *types.PlanExecutionResult `json:"result,omitempty"`
	Timestamp int64                      `json:"timestamp"`
}

// Publisher implements executor.Observer by publishing each event with
// QoS 1. Publishing never blocks the executor: delivery is confirmed in the
// background and failures are only logged.
type Publisher struct {
	client Client
	prefix string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex // guards stopped and wg.Add against Stop
	stopped bool
	wg      sync.WaitGroup
}

// NewMQTT builds a publisher for the configured broker. Call Start to connect.
func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("opera-%d", time.Now().Unix())
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	p := NewWithClient(nil, cfg.TopicPrefix, logger)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn("mqtt connection lost", "error", err)
	})
	p.client = mqtt.NewClient(opts)
	return p
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "opera"
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "events"),
		now:    time.Now,
	}
}

// Start connects to the broker.
func (p *Publisher) Start(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(10 * time.Second):
		return errors.New("mqtt: connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}
	p.logger.Info("event publisher connected", "prefix", p.prefix)
	return nil
}

// Stop waits for outstanding deliveries and disconnects.
// Events arriving after Stop are dropped.
func (p *Publisher) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.wg.Wait()
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.logger.Info("event publisher stopped")
}

// StepCompleted publishes a finished step.
func (p *Publisher) StepCompleted(_ context.Context, planID string, result types.ExecutionResult) {
	p.publish(fmt.Sprintf(stepTopic, p.prefix, planID), Event{
		Type:   EventStepCompleted,
		PlanID: planID,
		Step:   &result,
	})
}

// PlanCompleted publishes the outcome of a plan.
func (p *Publisher) PlanCompleted(_ context.Context, result *types.PlanExecutionResult) {
	p.publish(fmt.Sprintf(planTopic, p.prefix, result.PlanID), Event{
		Type:   EventPlanCompleted,
		PlanID: result.PlanID,
		Result: result,
	})
}

func (p *Publisher) publish(topic string, ev Event) {
	if !p.client.IsConnected() {
		p.logger.Debug("mqtt not connected, dropping event", "topic", topic, "type", ev.Type)
		return
	}
	ev.Timestamp = p.now().Unix()
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.logger.Debug("publisher stopped, dropping event", "topic", topic, "type", ev.Type)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	token := p.client.Publish(topic, 1, false, payload)
	go func() {
		defer p.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("publish timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("publish failed", "topic", topic, "error", err)
		}
	}()
}
