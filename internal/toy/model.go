// Package toy provides a scripted in-memory model for exercising the
// generation loop without real weights. Each call pops the next logits
// vector off a queue and records how it was invoked, so tests can assert
// cache threading and call ordering.
package toy

import (
	"context"
	"fmt"

	"github.com/gabewillen/mlx-vlm/internal/generate"
	"github.com/gabewillen/mlx-vlm/internal/tensor"
)

// Cache is the toy cache handle. It grows by one position per decode step,
// mirroring the append-only contract of a real KV cache.
type Cache struct {
	positions int
}

func (c *Cache) Positions() int { return c.positions }

// Call records a single model invocation.
type Call struct {
	Kind   string // "prefill" or "decode"
	Token  int32  // decode input token (decode only)
	Tokens []int32
	Cache  generate.Cache
}

// Model replays a queue of logits vectors: the first for the prefill step,
// the rest for successive decode steps.
type Model struct {
	Script [][]float32
	Calls  []Call

	cache *Cache
	next  int
}

// NewModel builds a toy model that returns the given logits vectors in order.
func NewModel(script ...[]float32) *Model {
	return &Model{Script: script}
}

func (m *Model) pop() ([]float32, error) {
	if m.next >= len(m.Script) {
		return nil, fmt.Errorf("toy: script exhausted after %d calls", m.next)
	}
	logits := m.Script[m.next]
	m.next++
	return logits, nil
}

func (m *Model) Prefill(ctx context.Context, tokenIDs []int32, pixels *tensor.Tensor) ([]float32, generate.Cache, error) {
	logits, err := m.pop()
	if err != nil {
		return nil, nil, err
	}
	m.cache = &Cache{positions: len(tokenIDs)}
	m.Calls = append(m.Calls, Call{
		Kind:   "prefill",
		Tokens: append([]int32(nil), tokenIDs...),
		Cache:  m.cache,
	})
	return logits, m.cache, nil
}

func (m *Model) Decode(ctx context.Context, token int32, cache generate.Cache) ([]float32, error) {
	if cache != m.cache {
		return nil, fmt.Errorf("toy: decode received a cache the model did not create")
	}
	logits, err := m.pop()
	if err != nil {
		return nil, err
	}
	m.cache.positions++
	m.Calls = append(m.Calls, Call{Kind: "decode", Token: token, Cache: cache})
	return logits, nil
}

// DecodeCalls counts decode-step invocations.
func (m *Model) DecodeCalls() int {
	n := 0
	for _, c := range m.Calls {
		if c.Kind == "decode" {
			n++
		}
	}
	return n
}

// Detokenizer maps token ids to fixed strings for round-trip assertions.
type Detokenizer struct {
	Vocab map[int32]string
}

func (d *Detokenizer) Decode(ids []int32) (string, error) {
	var out string
	for _, id := range ids {
		s, ok := d.Vocab[id]
		if !ok {
			s = fmt.Sprintf("<%d>", id)
		}
		out += s
	}
	return out, nil
}
