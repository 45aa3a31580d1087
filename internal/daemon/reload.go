package daemon

import (
	"github.com/harun/deepchat/internal/config"
	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/internal/tracing"
)

const watcherActor = "watcher"

// applyReload swaps the settings that can change without a restart: the
// search keywords and the sanitizer phrase sets. Everything else in cfg is
// ignored until the next start.
func (d *Daemon) applyReload(cfg *config.Config) {
	ctx := tracing.NewRequestContext(d.ctx, tracing.NewRequestID(), "")
	logger := tracing.LoggerFromContext(ctx, d.logger.Component("config"))

	if err := d.sanitizer.SetPhrases(cfg.Sanitizer.LeakPatterns, cfg.Sanitizer.LinePrefixes); err != nil {
		logger.Error().Err(err).Msg("Failed to apply sanitizer phrases, keeping previous set")
		return
	}
	d.decider.SetKeywords(cfg.Search.Keywords)

	d.mu.Lock()
	d.config.Search.Keywords = cfg.Search.Keywords
	d.config.Sanitizer.LeakPatterns = cfg.Sanitizer.LeakPatterns
	d.config.Sanitizer.LinePrefixes = cfg.Sanitizer.LinePrefixes
	d.mu.Unlock()

	observability.RecordConfigAudit(ctx, "config.reload", watcherActor, map[string]interface{}{
		"keywords":      len(cfg.Search.Keywords),
		"leak_patterns": len(cfg.Sanitizer.LeakPatterns),
		"line_prefixes": len(cfg.Sanitizer.LinePrefixes),
	})
	logger.Info().
		Int("keywords", len(cfg.Search.Keywords)).
		Int("leak_patterns", len(cfg.Sanitizer.LeakPatterns)).
		Int("line_prefixes", len(cfg.Sanitizer.LinePrefixes)).
		Msg("Runtime settings reloaded")
}
