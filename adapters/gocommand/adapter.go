package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Registry wraps a go-command registry and remembers every dispatcher
// subscription it creates so they can be released together.
type Registry struct {
	registry      *command.Registry
	subscriptions []commanddispatcher.Subscription
}

func NewRegistry(registry *command.Registry) *Registry {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Registry{registry: registry}
}

func (r *Registry) Registry() *command.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Registry) AddResolver(key string, resolver command.Resolver) error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return r.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry.
func (r *Registry) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return r.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (r *Registry) HasResolver(key string) bool {
	if r == nil || r.registry == nil {
		return false
	}
	return r.registry.HasResolver(strings.TrimSpace(key))
}

func (r *Registry) Initialize() error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return r.registry.Initialize()
}

// Close unsubscribes every handler registered through this registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for _, subscription := range r.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

func (r *Registry) track(subscription commanddispatcher.Subscription) {
	if subscription != nil {
		r.subscriptions = append(r.subscriptions, subscription)
	}
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterCommand subscribes cmd on the global dispatcher and adds it to the registry.
func RegisterCommand[T any](r *Registry, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := r.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	r.track(subscription)
	return nil
}

// RegisterQuery subscribes qry on the global dispatcher and adds it to the registry.
func RegisterQuery[T any, R any](r *Registry, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := r.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	r.track(subscription)
	return nil
}
