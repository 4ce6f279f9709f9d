package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-signatures/core"
)

// SendScript is one scripted provider reply. Delay holds the reply back, honouring
// context cancellation, to simulate slow vendors.
type SendScript struct {
	Result core.SendResult
	Err    error
	Delay  time.Duration
}

func Succeed(proof string) SendScript {
	return SendScript{Result: core.SendSucceeded(proof)}
}

func Fail(code string, message string) SendScript {
	return SendScript{Result: core.SendFailed(code, message)}
}

func Hang(delay time.Duration) SendScript {
	return SendScript{Result: core.SendSucceeded("late"), Delay: delay}
}

// FakeProvider replays scripts in order and repeats the last one once exhausted.
type FakeProvider struct {
	mu         sync.Mutex
	kind       core.ProviderType
	scripts    []SendScript
	deliveries []core.Delivery
	health     core.HealthState
}

func NewFakeProvider(kind core.ProviderType, scripts ...SendScript) *FakeProvider {
	return &FakeProvider{
		kind:    core.ProviderType(strings.TrimSpace(string(kind))),
		scripts: append([]SendScript(nil), scripts...),
		health:  core.HealthUp,
	}
}

func (p *FakeProvider) Type() core.ProviderType {
	if p == nil {
		return ""
	}
	return p.kind
}

func (p *FakeProvider) Send(ctx context.Context, delivery core.Delivery) (core.SendResult, error) {
	if p == nil {
		return core.SendResult{}, fmt.Errorf("devkit: fake provider is nil")
	}
	p.mu.Lock()
	p.deliveries = append(p.deliveries, cloneDelivery(delivery))
	index := len(p.deliveries) - 1
	script := SendScript{Result: core.SendSucceeded(fmt.Sprintf("%s-%d", p.kind, index+1))}
	if index < len(p.scripts) {
		script = p.scripts[index]
	} else if len(p.scripts) > 0 {
		script = p.scripts[len(p.scripts)-1]
	}
	p.mu.Unlock()

	if script.Delay > 0 {
		timer := time.NewTimer(script.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return core.SendResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return script.Result, script.Err
}

func (p *FakeProvider) CheckHealth(context.Context) (core.HealthStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return core.HealthStatus{
		State:     p.health,
		Details:   map[string]string{"provider": string(p.kind)},
		CheckedAt: time.Now().UTC(),
	}, nil
}

func (p *FakeProvider) SetHealth(state core.HealthState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = state
}

// Script replaces the remaining scripts.
func (p *FakeProvider) Script(scripts ...SendScript) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(make([]SendScript, len(p.deliveries)), scripts...)
}

func (p *FakeProvider) Deliveries() []core.Delivery {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Delivery, 0, len(p.deliveries))
	for _, delivery := range p.deliveries {
		out = append(out, cloneDelivery(delivery))
	}
	return out
}

func (p *FakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deliveries)
}

func cloneDelivery(in core.Delivery) core.Delivery {
	out := in
	out.Recipient = in.Recipient.Clone()
	return out
}

var _ core.ProviderPort = (*FakeProvider)(nil)
