package imagegate

import "time"

// Tier classifies a caller for quota purposes.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// ParseTier maps a tier hint (e.g. a request header value) to a Tier.
// Anything other than "paid" is treated as free.
func ParseTier(s string) Tier {
	if s == string(TierPaid) {
		return TierPaid
	}
	return TierFree
}

// GenerateRequest is a single generation (or photo-edit) request.
type GenerateRequest struct {
	// RequestID identifies the request in meter events. Optional.
	RequestID string

	// ClientKey is the best-effort caller identity. Required.
	ClientKey string

	// TierHint is the caller-provided tier. A durable usage store may
	// override it with a paid profile.
	TierHint Tier

	// Prompt is the raw user prompt. It is sanitized before any other use.
	Prompt string

	// SourceImage, when non-empty, switches the request to the photo-edit
	// path. Raw encoded PNG or JPEG bytes.
	SourceImage []byte
}

// GenerateResult is a settled generation.
type GenerateResult struct {
	// Image is the opaque encoded image returned by the upstream provider
	// (or the cache). PNG unless the provider says otherwise.
	Image []byte

	Cached  bool
	Deduped bool
	Edited  bool
	Latency time.Duration
}
