package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/pkg/clock"
)

// ErrClosed is returned for events emitted after the terminal event.
var ErrClosed = errors.New("stream closed")

// Sink delivers events to a client.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Config paces content events.
type Config struct {
	ChunkSize  int
	ChunkDelay time.Duration
	// StageDelay is the pause the pipeline takes between progress stages.
	StageDelay time.Duration
}

// DefaultConfig returns the default pacing.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  100,
		ChunkDelay: 50 * time.Millisecond,
		StageDelay: 300 * time.Millisecond,
	}
}

// Emitter stamps and forwards events for one stream. After a terminal event
// every further Emit returns ErrClosed. A failing sink is not retried: the
// first delivery error is kept and later events are dropped, so the run can
// finish for a client that went away.
type Emitter struct {
	mu        sync.Mutex
	sink      Sink
	sessionID string
	cfg       Config
	clock     clock.Clock
	logger    zerolog.Logger
	seq       int
	closed    bool
	terminal  EventType
	sinkErr   error
}

// NewEmitter creates an emitter for the session's stream.
func NewEmitter(sink Sink, sessionID string, cfg Config, clk clock.Clock, logger zerolog.Logger) *Emitter {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Emitter{
		sink:      sink,
		sessionID: sessionID,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
	}
}

// Emit sends ev. It returns ErrClosed once a terminal event was emitted.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.seq++
	ev.Seq = e.seq
	ev.SessionID = e.sessionID
	ev.Timestamp = e.clock.Now()
	if ev.Type.Terminal() {
		e.closed = true
		e.terminal = ev.Type
	}

	observability.RecordStreamEvent(string(ev.Type))

	if e.sinkErr != nil {
		return nil
	}
	if err := e.sink.Send(ctx, ev); err != nil {
		e.sinkErr = err
		e.logger.Warn().Err(err).Str("event", string(ev.Type)).Int("seq", ev.Seq).Msg("Stream client gone, dropping further events")
	}
	return nil
}

// Send emits an event carrying only a message.
func (e *Emitter) Send(ctx context.Context, t EventType, message string) error {
	return e.Emit(ctx, Event{Type: t, Message: message})
}

// Content emits text as rune chunks with "i/n" progress, pausing
// ChunkDelay between chunks.
func (e *Emitter) Content(ctx context.Context, text string) error {
	chunks := Chunk(text, e.cfg.ChunkSize)
	for i, chunk := range chunks {
		if i > 0 && e.cfg.ChunkDelay > 0 {
			if err := e.clock.Sleep(ctx, e.cfg.ChunkDelay); err != nil {
				return err
			}
		}
		if err := e.Emit(ctx, Event{Type: EventContent, Message: chunk, Progress: Progress(i, len(chunks))}); err != nil {
			return err
		}
	}
	return nil
}

// Pause waits StageDelay.
func (e *Emitter) Pause(ctx context.Context) error {
	if e.cfg.StageDelay <= 0 {
		return nil
	}
	return e.clock.Sleep(ctx, e.cfg.StageDelay)
}

// Closed reports whether the terminal event was emitted.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Terminal returns the type of the terminal event, or "" while open.
func (e *Emitter) Terminal() EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

// SinkErr returns the first delivery error, if any.
func (e *Emitter) SinkErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sinkErr
}

// Seq returns the number of events emitted so far.
func (e *Emitter) Seq() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
