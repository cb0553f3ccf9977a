// Package onnx runs exported vision-language models through GoMLX. A
// model is a set of ONNX graphs: a token embedder, an optional vision
// encoder, and a merged decoder whose past-key-value inputs carry the
// attention state between steps.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/gabewillen/mlx-vlm/internal/generate"
	"github.com/gabewillen/mlx-vlm/internal/logger"
	"github.com/gabewillen/mlx-vlm/internal/tensor"
)

// Source yields local paths for model files, downloading on demand when
// the model lives on the hub. hub.Source satisfies it.
type Source interface {
	Path(name string) (string, error)
}

// Options tune model loading.
type Options struct {
	// WithVision loads the vision encoder when the export ships one.
	WithVision bool
	// SentinelID is the token id that marks where image features splice
	// into the embedded prompt.
	SentinelID int32
}

// Candidate graph files in preference order. Merged decoders carry both
// the prefill and the with-past branches in one graph.
var (
	decoderFiles = []string{
		"decoder_model_merged.onnx",
		"decoder_with_past_model.onnx",
		"decoder_model.onnx",
		"model.onnx",
	}
	embedFiles  = []string{"embed_tokens.onnx"}
	visionFiles = []string{"vision_encoder.onnx", "vision_tower.onnx"}
)

// kvSpec pairs one past-key-value input with its present output and
// carries the static head dimensions needed to build an empty past.
type kvSpec struct {
	past    string
	present string
	heads   int
	headDim int
}

// Model implements generate.Model over a set of ONNX sessions.
type Model struct {
	decoder *session
	embed   *session
	vision  *session

	sentinel   int32
	kv         []kvSpec
	logitsName string
	cacheFlag  bool
	embedsMode bool
}

// Load assembles a Model from the graphs found under src.
func Load(ctx context.Context, src Source, opts Options) (*Model, error) {
	log := logger.FromContext(ctx)

	decoderPath, err := findFile(src, decoderFiles)
	if err != nil {
		return nil, fmt.Errorf("decoder graph: %w", err)
	}
	decoder, err := newSession(decoderPath, "decoder")
	if err != nil {
		return nil, err
	}

	m := &Model{
		decoder:    decoder,
		sentinel:   opts.SentinelID,
		embedsMode: decoder.hasInput("inputs_embeds"),
		cacheFlag:  decoder.hasInput("use_cache_branch"),
	}

	m.logitsName = decoder.outputs[0]
	for _, n := range decoder.outputs {
		if n == "logits" {
			m.logitsName = n
		}
	}
	for _, past := range decoder.kvInputs() {
		dims := decoder.inputDims[past]
		if len(dims) != 4 {
			decoder.close()
			return nil, fmt.Errorf("kv input %s: rank %d, want 4", past, len(dims))
		}
		m.kv = append(m.kv, kvSpec{
			past:    past,
			present: strings.Replace(past, "past_key_values", "present", 1),
			heads:   dims[1],
			headDim: dims[3],
		})
	}

	if m.embedsMode {
		embedPath, err := findFile(src, embedFiles)
		if err != nil {
			decoder.close()
			return nil, fmt.Errorf("decoder wants inputs_embeds but no embedding graph: %w", err)
		}
		if m.embed, err = newSession(embedPath, "embed_tokens"); err != nil {
			decoder.close()
			return nil, err
		}
	}

	if opts.WithVision {
		visionPath, err := findFile(src, visionFiles)
		switch {
		case err != nil:
			log.Warn("no vision encoder in model export, running text-only")
		case !m.embedsMode:
			m.Close()
			return nil, errors.New("vision encoder present but decoder does not accept inputs_embeds")
		default:
			if m.vision, err = newSession(visionPath, "vision_encoder"); err != nil {
				m.Close()
				return nil, err
			}
		}
	}

	log.Debug("model sessions ready",
		"decoder", decoderPath,
		"kv_layers", len(m.kv)/2,
		"vision", m.vision != nil)
	return m, nil
}

// Close releases every session's graph and weights.
func (m *Model) Close() {
	m.decoder.close()
	m.embed.close()
	m.vision.close()
}

// kvCache holds the present-key-value tensors between steps. The handle
// is opaque to callers; only this package reads or advances it.
type kvCache struct {
	kv        map[string]*tensors.Tensor
	positions int
}

func (c *kvCache) Positions() int { return c.positions }

// Prefill runs the full prompt (and image, when pixels is non-nil)
// through the decoder and returns the last-position logits together
// with the primed cache.
func (m *Model) Prefill(ctx context.Context, tokenIDs []int32, pixels *tensor.Tensor) ([]float32, generate.Cache, error) {
	if len(tokenIDs) == 0 {
		return nil, nil, errors.New("empty token sequence")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var arg *tensors.Tensor
	argName := "input_ids"
	seqLen := len(tokenIDs)

	if m.embedsMode {
		embeds, dim, err := m.embedTokens(tokenIDs)
		if err != nil {
			return nil, nil, err
		}
		if at := sentinelIndex(tokenIDs, m.sentinel); at >= 0 {
			if pixels == nil || m.vision == nil {
				return nil, nil, errors.New("prompt carries an image slot but no image features are available")
			}
			features, featLen, err := m.encodeImage(pixels, dim)
			if err != nil {
				return nil, nil, err
			}
			embeds = spliceFeatures(embeds, seqLen, dim, features, featLen, at)
			seqLen = seqLen - 1 + featLen
		} else if pixels != nil {
			if m.vision == nil {
				return nil, nil, errors.New("image provided but model has no vision encoder")
			}
			// No sentinel slot: image features lead the sequence.
			features, featLen, err := m.encodeImage(pixels, dim)
			if err != nil {
				return nil, nil, err
			}
			embeds = append(features, embeds...)
			seqLen += featLen
		}
		arg = tensors.FromFlatDataAndDimensions(embeds, 1, seqLen, dim)
		argName = "inputs_embeds"
	} else {
		if pixels != nil || sentinelIndex(tokenIDs, m.sentinel) >= 0 {
			return nil, nil, errors.New("decoder takes raw token ids, cannot inject image features")
		}
		arg = tensors.FromValue(placeholderIDs(tokenIDs, m.sentinel))
	}

	consts := m.decoderConsts(0, seqLen, false, nil)
	outs, err := m.decoder.run(argName, arg, consts)
	if err != nil {
		return nil, nil, err
	}

	logits, err := lastLogits(outs[m.logitsName])
	if err != nil {
		return nil, nil, err
	}
	cache := &kvCache{kv: make(map[string]*tensors.Tensor, len(m.kv)), positions: seqLen}
	for _, spec := range m.kv {
		t, ok := outs[spec.present]
		if !ok {
			return nil, nil, fmt.Errorf("decoder output %s missing", spec.present)
		}
		cache.kv[spec.past] = t
	}
	return logits, cache, nil
}

// Decode extends the cached sequence by one token and returns the
// logits for the next position.
func (m *Model) Decode(ctx context.Context, token int32, cache generate.Cache) ([]float32, error) {
	c, ok := cache.(*kvCache)
	if !ok {
		return nil, fmt.Errorf("cache handle of type %T does not belong to this model", cache)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var arg *tensors.Tensor
	argName := "input_ids"
	if m.embedsMode {
		embeds, dim, err := m.embedTokens([]int32{token})
		if err != nil {
			return nil, err
		}
		arg = tensors.FromFlatDataAndDimensions(embeds, 1, 1, dim)
		argName = "inputs_embeds"
	} else {
		arg = tensors.FromValue([][]int64{{int64(token)}})
	}

	consts := m.decoderConsts(c.positions, 1, true, c.kv)
	outs, err := m.decoder.run(argName, arg, consts)
	if err != nil {
		return nil, err
	}

	logits, err := lastLogits(outs[m.logitsName])
	if err != nil {
		return nil, err
	}
	for _, spec := range m.kv {
		t, ok := outs[spec.present]
		if !ok {
			return nil, fmt.Errorf("decoder output %s missing", spec.present)
		}
		c.kv[spec.past] = t
	}
	c.positions++
	return logits, nil
}

// decoderConsts binds every decoder input except the graph argument:
// the attention mask over past+new positions, position ids for the new
// positions, the past key-values, and the merged-graph branch flag.
func (m *Model) decoderConsts(past, newLen int, withPast bool, kv map[string]*tensors.Tensor) map[string]any {
	consts := make(map[string]any)
	if m.decoder.hasInput("attention_mask") {
		consts["attention_mask"] = onesMask(past + newLen)
	}
	if m.decoder.hasInput("position_ids") {
		consts["position_ids"] = positionRange(past, newLen)
	}
	if m.cacheFlag {
		consts["use_cache_branch"] = []bool{withPast}
	}
	for _, spec := range m.kv {
		if withPast {
			consts[spec.past] = kv[spec.past]
		} else {
			consts[spec.past] = tensors.FromShape(shapes.Make(dtypes.Float32, 1, spec.heads, 0, spec.headDim))
		}
	}
	return consts
}

// embedTokens looks up embeddings for ids, returning the flat [seq, dim]
// slab and the hidden dimension.
func (m *Model) embedTokens(ids []int32) ([]float32, int, error) {
	outs, err := m.embed.run("input_ids", tensors.FromValue(placeholderIDs(ids, m.sentinel)), nil)
	if err != nil {
		return nil, 0, err
	}
	t := outs[m.embed.outputs[0]]
	dims := t.Shape().Dimensions
	if len(dims) != 3 {
		return nil, 0, fmt.Errorf("embedding output rank %d, want 3", len(dims))
	}
	return tensors.MustCopyFlatData[float32](t), dims[2], nil
}

// encodeImage runs the vision encoder over preprocessed pixels and
// returns the flat [featLen, dim] feature slab.
func (m *Model) encodeImage(pixels *tensor.Tensor, dim int) ([]float32, int, error) {
	arg := tensors.FromFlatDataAndDimensions(pixels.Data, pixels.Shape...)
	outs, err := m.vision.run("pixel_values", arg, nil)
	if err != nil {
		return nil, 0, err
	}
	t := outs[m.vision.outputs[0]]
	dims := t.Shape().Dimensions
	if len(dims) != 3 {
		return nil, 0, fmt.Errorf("vision output rank %d, want 3", len(dims))
	}
	if dims[2] != dim {
		return nil, 0, fmt.Errorf("vision feature dim %d does not match embedding dim %d", dims[2], dim)
	}
	return tensors.MustCopyFlatData[float32](t), dims[1], nil
}

// lastLogits extracts the final position's logits row from a
// [batch, seq, vocab] tensor.
func lastLogits(t *tensors.Tensor) ([]float32, error) {
	if t == nil {
		return nil, errors.New("decoder produced no logits")
	}
	dims := t.Shape().Dimensions
	if len(dims) != 3 {
		return nil, fmt.Errorf("logits rank %d, want 3", len(dims))
	}
	seq, vocab := dims[1], dims[2]
	flat := tensors.MustCopyFlatData[float32](t)
	return flat[(seq-1)*vocab:], nil
}

// findFile resolves the first candidate that exists, checking the repo
// root and the conventional onnx/ subdirectory. External weight files
// ride along as a <name>_data sidecar.
func findFile(src Source, names []string) (string, error) {
	for _, name := range names {
		for _, rel := range []string{"onnx/" + name, name} {
			p, err := src.Path(rel)
			if err != nil {
				continue
			}
			src.Path(rel + "_data")
			return p, nil
		}
	}
	return "", fmt.Errorf("none of %v found", names)
}
