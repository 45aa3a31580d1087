package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/commandqueue"
)

func echoRunner(reply string) Runner {
	return RunnerFunc(func(ctx context.Context, state State) (State, error) {
		return state.With(AssistantMessage{Content: reply}), nil
	})
}

func newTestInvoker(t *testing.T, registry *Registry, workers int) *Invoker {
	t.Helper()
	queue := commandqueue.New(commandqueue.Config{Name: "agent", Workers: workers})
	t.Cleanup(func() { _ = queue.Close() })
	return NewInvoker(InvokerConfig{Registry: registry, Queue: queue, Logger: zerolog.Nop()})
}

func TestInvokerInvoke(t *testing.T) {
	registry := NewRegistry()
	registry.Register(TypeResearch, echoRunner("answer"))
	inv := newTestInvoker(t, registry, 2)

	ctx := tracing.WithSessionID(context.Background(), "s1")
	out, err := inv.Invoke(ctx, TypeResearch, NewState(UserMessage{Content: "q"}))
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Last().Text())
	assert.True(t, inv.Available(TypeResearch))
	assert.False(t, inv.Available(TypeCritique))
}

func TestInvokerUnavailable(t *testing.T) {
	inv := newTestInvoker(t, NewRegistry(), 1)

	in := NewState(UserMessage{Content: "q"})
	out, err := inv.Invoke(context.Background(), TypeGeneral, in)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, in, out)
}

func TestInvokerRecoversPanic(t *testing.T) {
	registry := NewRegistry()
	registry.Register(TypeGeneral, RunnerFunc(func(ctx context.Context, state State) (State, error) {
		panic("boom")
	}))
	inv := newTestInvoker(t, registry, 1)

	_, err := inv.Invoke(context.Background(), TypeGeneral, NewState(UserMessage{Content: "q"}))
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestInvokeOrDegrade(t *testing.T) {
	registry := NewRegistry()
	registry.Register(TypeGeneral, RunnerFunc(func(ctx context.Context, state State) (State, error) {
		return state, errors.New("model down")
	}))
	inv := NewInvoker(InvokerConfig{
		Registry: registry,
		Logger:   zerolog.Nop(),
		Apology:  func(err error) string { return "degraded: " + err.Error() },
	})

	out := inv.InvokeOrDegrade(context.Background(), TypeGeneral, NewState(UserMessage{Content: "q"}))
	require.Len(t, out.Messages, 2)
	assert.Equal(t, AssistantMessage{Content: "degraded: model down"}, out.Last())
}

func TestInvokerSerializesSession(t *testing.T) {
	var running, maxRunning int32
	registry := NewRegistry()
	registry.Register(TypeGeneral, RunnerFunc(func(ctx context.Context, state State) (State, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return state, nil
	}))
	inv := newTestInvoker(t, registry, 4)

	ctx := tracing.WithSessionID(context.Background(), "same")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inv.Invoke(ctx, TypeGeneral, NewState())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestInvokerCancelPending(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	registry := NewRegistry()
	registry.Register(TypeGeneral, RunnerFunc(func(ctx context.Context, state State) (State, error) {
		started <- struct{}{}
		<-release
		return state, nil
	}))
	inv := newTestInvoker(t, registry, 1)
	ctx := tracing.WithSessionID(context.Background(), "s")

	firstDone := make(chan error, 1)
	go func() {
		_, err := inv.Invoke(ctx, TypeGeneral, NewState())
		firstDone <- err
	}()
	<-started

	secondDone := make(chan error, 1)
	go func() {
		_, err := inv.Invoke(ctx, TypeGeneral, NewState())
		secondDone <- err
	}()
	require.Eventually(t, func() bool { return inv.queue.QueueSize("session:s") == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, inv.CancelPending("s"))
	assert.ErrorIs(t, <-secondDone, commandqueue.ErrLaneReset)

	close(release)
	assert.NoError(t, <-firstDone)
}

func TestInvokerWithoutQueue(t *testing.T) {
	registry := NewRegistry()
	registry.Register(TypeCritique, echoRunner("review"))
	inv := NewInvoker(InvokerConfig{Registry: registry, Logger: zerolog.Nop()})

	out, err := inv.Invoke(context.Background(), TypeCritique, NewState(UserMessage{Content: "q"}))
	require.NoError(t, err)
	assert.Equal(t, "review", out.Last().Text())
	assert.Equal(t, 0, inv.CancelPending("any"))
}

func TestLaneKey(t *testing.T) {
	assert.Equal(t, "session:default", laneKey(" "))
	assert.Equal(t, "session:abc", laneKey("abc"))
}
