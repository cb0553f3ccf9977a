package generate

import (
	"math"
	"math/rand"
)

// Sampler draws the next token id from a logits vector. Temperature zero is
// deterministic arg-max; any positive temperature rescales the logits by its
// reciprocal and draws once from the implied categorical distribution.
type Sampler struct {
	temperature float64
	rng         *rand.Rand
	prob        []float64
}

// NewSampler returns a sampler for the given temperature. The seed fixes the
// entropy source so stochastic runs can be reproduced; temperature zero
// never touches the RNG.
func NewSampler(temperature float64, seed int64) *Sampler {
	if temperature < 0 {
		temperature = 0
	}
	return &Sampler{
		temperature: temperature,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Sample returns the chosen index of the logits vector.
func (s *Sampler) Sample(logits []float32) int {
	if s.temperature == 0 {
		return argmax(logits)
	}

	invTemp := 1.0 / s.temperature

	// Softmax with max subtraction for numerical stability.
	maxv := math.Inf(-1)
	for _, l := range logits {
		v := float64(l) * invTemp
		if v > maxv {
			maxv = v
		}
	}
	if cap(s.prob) < len(logits) {
		s.prob = make([]float64, len(logits))
	}
	prob := s.prob[:len(logits)]
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l)*invTemp - maxv)
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		return argmax(logits)
	}

	r := s.rng.Float64() * sum
	var c float64
	for i, p := range prob {
		c += p
		if r <= c {
			return i
		}
	}
	return len(logits) - 1
}

// argmax returns the index of the maximum value, ties broken by first
// occurrence. It panics on an empty slice.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
