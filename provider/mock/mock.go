// Package mock provides a Provider test double.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ineyio/imagegate"
)

// Provider is a mock image provider for testing.
type Provider struct {
	image         []byte
	latency       time.Duration
	staticErr     error
	block         <-chan struct{}
	generateCalls atomic.Int64
	editCalls     atomic.Int64
	generateFunc  func(prompt string) ([]byte, error)
}

var _ imagegate.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options. By default it
// returns a tiny PNG-tagged payload.
func New(opts ...Option) *Provider {
	p := &Provider{
		image: []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 'm', 'o', 'c', 'k'},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithImage sets the image returned by the mock.
func WithImage(img []byte) Option {
	return func(p *Provider) { p.image = img }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithBlock makes each call wait until ch is closed (or yields a value),
// so tests can hold calls in flight.
func WithBlock(ch <-chan struct{}) Option {
	return func(p *Provider) { p.block = ch }
}

// WithGenerateFunc sets a custom generate function.
func WithGenerateFunc(fn func(prompt string) ([]byte, error)) Option {
	return func(p *Provider) { p.generateFunc = fn }
}

func (p *Provider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	p.generateCalls.Add(1)
	return p.respond(ctx, prompt)
}

func (p *Provider) Edit(ctx context.Context, prompt string, _ []byte) ([]byte, error) {
	p.editCalls.Add(1)
	return p.respond(ctx, prompt)
}

func (p *Provider) respond(ctx context.Context, prompt string) ([]byte, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.staticErr != nil {
		return nil, p.staticErr
	}
	if p.generateFunc != nil {
		return p.generateFunc(prompt)
	}
	return p.image, nil
}

// GenerateCalls returns the number of Generate calls.
func (p *Provider) GenerateCalls() int64 { return p.generateCalls.Load() }

// EditCalls returns the number of Edit calls.
func (p *Provider) EditCalls() int64 { return p.editCalls.Load() }
