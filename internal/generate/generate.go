// Package generate drives autoregressive decoding: one prefill pass over the
// prompt and image, then single-token decode steps threading the model's
// key-value cache, until the end-of-sequence token or the token budget.
package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gabewillen/mlx-vlm/internal/logger"
	"github.com/gabewillen/mlx-vlm/internal/tensor"
)

// Cache is the model-owned accumulator of per-layer attention state. The
// loop receives it from Prefill and passes it back unchanged on every Decode
// call; it never inspects or rebuilds it, which is what keeps each generated
// token at O(1) work instead of O(n) over the growing prefix.
type Cache interface {
	// Positions reports how many sequence positions the cache covers.
	Positions() int
}

// Model is the pair of callables the loop drives. Prefill sees the whole
// prompt plus pixels once; Decode sees only the newest token and the cache.
type Model interface {
	Prefill(ctx context.Context, tokenIDs []int32, pixels *tensor.Tensor) (logits []float32, cache Cache, err error)
	Decode(ctx context.Context, token int32, cache Cache) (logits []float32, err error)
}

// Detokenizer turns generated token ids back into text.
type Detokenizer interface {
	Decode(ids []int32) (string, error)
}

// Options configure one generation run.
type Options struct {
	MaxTokens   int
	Temperature float64
	EOSTokenID  int32
	// Seed fixes the sampling entropy source; pass a time-derived value for
	// non-reproducible runs.
	Seed int64
}

// Stats describe a finished run.
type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Result is the outcome of a generation run.
type Result struct {
	ID       string
	Text     string
	TokenIDs []int32
	Stats    Stats
}

// Run produces between 1 and opts.MaxTokens tokens. The prefill step always
// runs, so even MaxTokens==1 yields exactly one token. A sampled
// end-of-sequence token terminates the loop without being appended. Any
// model error aborts with no partial result.
func Run(ctx context.Context, m Model, det Detokenizer, tokenIDs []int32, pixels *tensor.Tensor, opts Options) (*Result, error) {
	if m == nil {
		return nil, fmt.Errorf("generate: nil model")
	}
	if det == nil {
		return nil, fmt.Errorf("generate: nil detokenizer")
	}
	if opts.MaxTokens < 1 {
		return nil, fmt.Errorf("generate: max tokens must be >= 1, got %d", opts.MaxTokens)
	}
	if opts.Temperature < 0 {
		return nil, fmt.Errorf("generate: temperature must be >= 0, got %v", opts.Temperature)
	}

	id := uuid.New().String()
	log := logger.FromContext(ctx).With("generation", id)
	sampler := NewSampler(opts.Temperature, opts.Seed)
	start := time.Now()

	logits, cache, err := m.Prefill(ctx, tokenIDs, pixels)
	if err != nil {
		return nil, fmt.Errorf("prefill: %w", err)
	}

	next := int32(sampler.Sample(logits))
	generated := []int32{next}

	for i := 0; next != opts.EOSTokenID && i < opts.MaxTokens-1; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logits, err = m.Decode(ctx, next, cache)
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", i, err)
		}

		next = int32(sampler.Sample(logits))
		if next == opts.EOSTokenID {
			break
		}
		generated = append(generated, next)
	}

	text, err := det.Decode(generated)
	if err != nil {
		return nil, fmt.Errorf("detokenize: %w", err)
	}

	stats := Stats{
		TokensGenerated: len(generated),
		Duration:        time.Since(start),
	}
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.TPS = float64(stats.TokensGenerated) / secs
	}
	log.Debug("generation finished",
		"tokens", stats.TokensGenerated,
		"duration", stats.Duration,
		"tps", stats.TPS,
	)

	return &Result{
		ID:       id,
		Text:     text,
		TokenIDs: generated,
		Stats:    stats,
	}, nil
}
