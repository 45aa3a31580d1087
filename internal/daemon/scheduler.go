package daemon

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/deepchat/internal/tracing"
)

// schedulerActor is the audit actor of scheduled resets.
const schedulerActor = "scheduler"

// newScheduler registers the periodic reset of every session when one is
// configured. Expired sessions are purged lazily by the store on Resolve.
func (d *Daemon) newScheduler() (*cron.Cron, error) {
	cl := cronLogger{logger: d.logger.Component("scheduler")}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if expr := d.config.Sessions.ResetSchedule; expr != "" {
		if _, err := c.AddFunc(expr, d.runScheduledReset); err != nil {
			return nil, fmt.Errorf("invalid reset schedule %q: %w", expr, err)
		}
		d.log().Info().Str("schedule", expr).Msg("Scheduled session reset enabled")
	}

	return c, nil
}

func (d *Daemon) runScheduledReset() {
	ctx := tracing.NewRequestContext(d.ctx, tracing.NewRequestID(), "")
	n := d.manager.ClearAll(ctx, schedulerActor)
	tracing.LoggerFromContext(ctx, d.logger.Zerolog()).Info().
		Int("cleared", n).
		Msg("Scheduled session reset completed")
}

// cronLogger adapts zerolog.Logger to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Error().Err(err), msg, keysAndValues...)
}

func (l cronLogger) log(ev *zerolog.Event, msg string, fields ...interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			ev.Interface(key, fields[i+1])
		}
	}
	ev.Msg(msg)
}
