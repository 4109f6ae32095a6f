package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/opera-os/opera/internal/types"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	published  []message
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, message{topic: topic, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublisherEmitsStepAndPlanEvents(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "home", quiet())
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	p.StepCompleted(ctx, "plan-9", types.ExecutionResult{StepID: 1, Success: true, Output: "ok"})
	p.PlanCompleted(ctx, &types.PlanExecutionResult{PlanID: "plan-9", Success: true})
	p.Stop()

	if len(client.published) != 2 {
		t.Fatalf("published %d messages", len(client.published))
	}
	if got := client.published[0].topic; got != "home/plans/plan-9/steps" {
		t.Errorf("step topic = %q", got)
	}
	if got := client.published[1].topic; got != "home/plans/plan-9/result" {
		t.Errorf("plan topic = %q", got)
	}

	var ev Event
	if err := json.Unmarshal(client.published[0].payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventStepCompleted || ev.PlanID != "plan-9" || ev.Step == nil || ev.Step.StepID != 1 || ev.Timestamp != 1700000000 {
		t.Errorf("event = %+v", ev)
	}
	if client.IsConnected() {
		t.Error("Stop should disconnect")
	}
}

func TestPublisherDropsWhenDisconnected(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "", quiet())
	p.PlanCompleted(context.Background(), &types.PlanExecutionResult{PlanID: "p"})
	if len(client.published) != 0 {
		t.Errorf("published while disconnected: %+v", client.published)
	}
	if p.prefix != "opera" {
		t.Errorf("default prefix = %q", p.prefix)
	}
}

func TestPublisherStartError(t *testing.T) {
	p := NewWithClient(&fakeClient{connectErr: errors.New("refused")}, "x", quiet())
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestPublisherDropsAfterStop(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "home", quiet())
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.StepCompleted(context.Background(), "plan-x", types.ExecutionResult{StepID: i + 1, Success: true})
		}()
	}
	p.Stop()
	wg.Wait()

	client.mu.Lock()
	client.connected = true
	before := len(client.published)
	client.mu.Unlock()

	p.PlanCompleted(context.Background(), &types.PlanExecutionResult{PlanID: "plan-x"})

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.published) != before {
		t.Errorf("published after Stop: %d -> %d", before, len(client.published))
	}
}
