package meter

import (
	"log/slog"

	"github.com/ineyio/imagegate"
)

// LogMeter logs gatekeeper events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ imagegate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnGenerate(e imagegate.GenerateEvent) {
	m.Logger.Info("upstream_call",
		"request_id", e.RequestID,
		"client", e.ClientKey,
		"tier", e.Tier,
		"fingerprint", e.Fingerprint,
		"edited", e.Edited,
	)
}

func (m *LogMeter) OnResult(e imagegate.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"client", e.ClientKey,
			"tier", e.Tier,
			"cached", e.Cached,
			"deduped", e.Deduped,
			"edited", e.Edited,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"client", e.ClientKey,
			"tier", e.Tier,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
