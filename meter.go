package imagegate

import "time"

// Meter observes gatekeeper events for monitoring/logging.
type Meter interface {
	// OnGenerate is called when an upstream call is about to start.
	OnGenerate(event GenerateEvent)

	// OnResult is called when a request settles.
	OnResult(event ResultEvent)
}

// GenerateEvent describes an upstream call being issued.
type GenerateEvent struct {
	RequestID   string
	ClientKey   string
	Tier        Tier
	Fingerprint string
	Edited      bool
}

// ResultEvent describes the outcome of a request.
type ResultEvent struct {
	RequestID string
	ClientKey string
	Tier      Tier
	Success   bool
	Cached    bool
	Deduped   bool
	Edited    bool
	Duration  time.Duration
	Error     error
}

// noopMeter is the default meter.
type noopMeter struct{}

func (noopMeter) OnGenerate(GenerateEvent) {}
func (noopMeter) OnResult(ResultEvent)     {}
