package imagegate

import "context"

// Provider is the upstream image-generation service. Implementations keep
// no per-call state; retries and timeouts are their concern, admission and
// caching are the Gateway's.
type Provider interface {
	// Generate produces an image from a sanitized prompt. Returns the
	// encoded image bytes.
	Generate(ctx context.Context, prompt string) ([]byte, error)

	// Edit produces an image from a sanitized prompt and a source photo
	// (validated PNG/JPEG bytes).
	Edit(ctx context.Context, prompt string, source []byte) ([]byte, error)
}
