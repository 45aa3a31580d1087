package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/commandqueue"
	"github.com/harun/deepchat/pkg/session"
)

// ErrUnavailable is returned when no runner is registered for the requested type.
var ErrUnavailable = errors.New("agent unavailable")

// PanicError is a panic recovered from a runner.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("agent panicked: %v", e.Value)
}

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Registry *Registry
	// Queue serializes runs per session. Nil runs on the calling goroutine.
	Queue *commandqueue.CommandQueue
	// WarnAfter logs runs still waiting behind the same session's earlier ones.
	WarnAfter time.Duration
	Apology   func(err error) string
	Logger    zerolog.Logger
}

// Invoker runs agents off the request goroutine, one at a time per session.
type Invoker struct {
	registry  *Registry
	queue     *commandqueue.CommandQueue
	warnAfter time.Duration
	apology   func(err error) string
	logger    zerolog.Logger
}

// NewInvoker creates an Invoker.
func NewInvoker(cfg InvokerConfig) *Invoker {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Apology == nil {
		cfg.Apology = DefaultApology
	}
	return &Invoker{
		registry:  cfg.Registry,
		queue:     cfg.Queue,
		warnAfter: cfg.WarnAfter,
		apology:   cfg.Apology,
		logger:    cfg.Logger,
	}
}

// Available reports whether t can be invoked.
func (i *Invoker) Available(t Type) bool {
	return i.registry.Available(t)
}

func laneKey(sessionID string) string {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = session.DefaultID
	}
	return "session:" + sessionID
}

// Invoke runs the agent of type t on state and waits for it. The session lane
// is taken from the session id in ctx.
func (i *Invoker) Invoke(ctx context.Context, t Type, state State) (State, error) {
	runner, ok := i.registry.Get(t)
	if !ok {
		observability.RecordAgentInvocation(string(t), "unavailable", 0)
		return state, fmt.Errorf("%w: %s", ErrUnavailable, t)
	}

	ctx = tracing.WithAgentType(ctx, string(t))
	logger := tracing.LoggerFromContext(ctx, i.logger)
	start := time.Now()

	task := func(ctx context.Context) (interface{}, error) {
		return runSafely(ctx, runner, state)
	}

	var (
		value interface{}
		err   error
	)
	if i.queue == nil {
		value, err = task(ctx)
	} else {
		lane := laneKey(tracing.GetSessionID(ctx))
		opts := &commandqueue.TaskOptions{}
		if i.warnAfter > 0 {
			opts.WarnAfter = i.warnAfter
			opts.OnWait = func(wait time.Duration, queuePos int) {
				logger.Info().Str("lane", lane).Dur("wait", wait).Int("queue_pos", queuePos).Msg("Agent run waiting for earlier request in session")
			}
		}
		if ahead := i.queue.QueueSize(lane) + i.queue.RunningCount(lane); ahead > 0 {
			logger.Debug().Str("lane", lane).Int("ahead", ahead).Msg("Agent run queued behind earlier requests")
		}
		value, err = i.queue.Enqueue(ctx, lane, task, opts)
	}
	duration := time.Since(start)

	if err != nil {
		status := "error"
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			status = "panic"
			logger.Error().Interface("panic", panicErr.Value).Bytes("stack", panicErr.Stack).Msg("Agent panicked")
		} else {
			logger.Error().Err(err).Dur("duration", duration).Msg("Agent invocation failed")
		}
		observability.RecordAgentInvocation(string(t), status, duration)
		return state, err
	}

	observability.RecordAgentInvocation(string(t), "success", duration)
	logger.Debug().Dur("duration", duration).Msg("Agent invocation completed")
	return value.(State), nil
}

// InvokeOrDegrade is Invoke, except that a failure yields the input state
// with an appended apology turn.
func (i *Invoker) InvokeOrDegrade(ctx context.Context, t Type, state State) State {
	out, err := i.Invoke(ctx, t, state)
	if err != nil {
		return state.With(AssistantMessage{Content: i.apology(err)})
	}
	return out
}

// CancelPending drops runs queued for the session that have not started yet.
func (i *Invoker) CancelPending(sessionID string) int {
	if i.queue == nil {
		return 0
	}
	return i.queue.ResetLane(laneKey(sessionID))
}

func runSafely(ctx context.Context, runner Runner, state State) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return runner.Invoke(ctx, state)
}
