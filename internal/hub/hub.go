// Package hub resolves a model identifier, a local directory or a
// HuggingFace repo name, into a runnable model, a text processor and an
// image preprocessor.
package hub

import (
	"context"
	"errors"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	hfhub "github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"

	"github.com/gabewillen/mlx-vlm/internal/backend/onnx"
	"github.com/gabewillen/mlx-vlm/internal/generate"
	"github.com/gabewillen/mlx-vlm/internal/imgproc"
	"github.com/gabewillen/mlx-vlm/internal/logger"
	"github.com/gabewillen/mlx-vlm/internal/prepare"
	"github.com/gabewillen/mlx-vlm/internal/tokenizer"
)

// ErrModelLoad anchors errors.Is checks for model resolution failures.
var ErrModelLoad = errors.New("model_load")

// ModelLoadError reports an unresolvable model identifier or an
// incompatible configuration.
type ModelLoadError struct {
	ModelID string
	Reason  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.ModelID, e.Reason)
}

func (e *ModelLoadError) Unwrap() error { return ErrModelLoad }

func newModelLoadError(modelID, format string, args ...any) error {
	return &ModelLoadError{ModelID: modelID, Reason: fmt.Errorf(format, args...)}
}

// Family tags the input-preparation convention a model expects. It is
// detected once here and threaded explicitly; nothing reads it from
// ambient state.
type Family int

const (
	// FamilyNanoLlava splits the prompt on the image marker and splices a
	// sentinel token id between the halves.
	FamilyNanoLlava Family = iota
	// FamilyGeneric hands prompt and image to a combined processor.
	FamilyGeneric
)

func (f Family) String() string {
	if f == FamilyNanoLlava {
		return "nanollava"
	}
	return "generic"
}

// Convention maps the family to its input-preparation convention.
func (f Family) Convention() prepare.Convention {
	if f == FamilyNanoLlava {
		return prepare.ConventionSplit
	}
	return prepare.ConventionJoint
}

// modelConfig is the slice of config.json the loader needs.
type modelConfig struct {
	ModelType string `json:"model_type"`
}

// DetectFamily reads model_type out of config.json bytes.
func DetectFamily(configJSON []byte) (Family, error) {
	var cfg modelConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return 0, fmt.Errorf("parse config.json: %w", err)
	}
	switch cfg.ModelType {
	case "":
		return 0, fmt.Errorf("config.json has no model_type")
	case "llava-qwen2", "nanollava":
		return FamilyNanoLlava, nil
	default:
		return FamilyGeneric, nil
	}
}

// Runtime bundles everything one generation run needs.
type Runtime struct {
	ModelID    string
	Family     Family
	Model      generate.Model
	Processor  tokenizer.Processor
	ImageProc  *imgproc.Processor
	Template   tokenizer.Template
	EOSTokenID int32
}

// Options tune loading.
type Options struct {
	// Progress enables the hub download progress bar.
	Progress bool
}

// Load resolves id and assembles a Runtime. Any resolution or
// configuration failure surfaces as a ModelLoadError; the image and
// generation packages never see a half-loaded model.
func Load(ctx context.Context, id string, opts Options) (*Runtime, error) {
	log := logger.FromContext(ctx).With("model", id)

	src, err := openSource(id, opts)
	if err != nil {
		return nil, err
	}

	configJSON, err := src.ReadFile("config.json")
	if err != nil {
		return nil, newModelLoadError(id, "config.json: %w", err)
	}
	family, err := DetectFamily(configJSON)
	if err != nil {
		return nil, newModelLoadError(id, "%w", err)
	}
	log.Debug("model family detected", "family", family.String())

	imgCfg := imgproc.DefaultConfig()
	if raw, err := src.ReadFile("preprocessor_config.json"); err == nil {
		imgCfg, err = imgproc.ParseConfig(raw)
		if err != nil {
			return nil, newModelLoadError(id, "%w", err)
		}
	}

	procCfg := parseOptionalConfig(src, "processor_config.json")
	tokCfg := parseOptionalConfig(src, "tokenizer_config.json")
	template := tokenizer.ResolveTemplate(procCfg, tokCfg)
	log.Debug("chat template resolved", "capability", template.Capability.String())

	eosID := tokCfg.EOSTokenID
	if override, ok := generationEOS(src); ok {
		eosID = override
	}

	tok, err := tokenizers.New(src.Repo())
	if err != nil {
		return nil, newModelLoadError(id, "tokenizer: %w", err)
	}
	proc, err := tokenizer.NewHFProcessor(tok, eosID)
	if err != nil {
		return nil, newModelLoadError(id, "%w", err)
	}

	model, err := onnx.Load(ctx, src, onnx.Options{
		WithVision: true,
		SentinelID: prepare.SentinelID,
	})
	if err != nil {
		return nil, newModelLoadError(id, "%w", err)
	}

	return &Runtime{
		ModelID:    id,
		Family:     family,
		Model:      model,
		Processor:  proc,
		ImageProc:  imgproc.NewProcessor(imgCfg),
		Template:   template,
		EOSTokenID: proc.EOSTokenID(),
	}, nil
}

// generationEOS reads the end-of-sequence id pinned in
// generation_config.json, which wins over the tokenizer config when
// present. The field appears as a bare id or a list of ids; the first
// entry terminates generation.
func generationEOS(src Source) (int32, bool) {
	raw, err := src.ReadFile("generation_config.json")
	if err != nil {
		return 0, false
	}
	var cfg struct {
		EOSTokenID any `json:"eos_token_id"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return 0, false
	}
	switch v := cfg.EOSTokenID.(type) {
	case float64:
		return int32(v), true
	case []any:
		if len(v) > 0 {
			if f, ok := v[0].(float64); ok {
				return int32(f), true
			}
		}
	}
	return 0, false
}

// parseOptionalConfig reads a tokenizer-style config file, returning the
// zero Config when the file is absent or unreadable.
func parseOptionalConfig(src Source, name string) tokenizer.Config {
	raw, err := src.ReadFile(name)
	if err != nil {
		return tokenizer.Config{EOSTokenID: -1}
	}
	cfg, err := tokenizer.ParseConfig(raw)
	if err != nil {
		return tokenizer.Config{EOSTokenID: -1}
	}
	return cfg
}

// openSource picks between a local directory and a hub repo.
func openSource(id string, opts Options) (Source, error) {
	if info, err := os.Stat(id); err == nil && info.IsDir() {
		return &dirSource{dir: id}, nil
	}

	repo := hfhub.New(id)
	if opts.Progress {
		repo = repo.WithProgressBar(true)
	}
	if err := repo.DownloadInfo(false); err != nil {
		return nil, newModelLoadError(id, "resolve hub repo: %w", err)
	}
	return &repoSource{id: id, repo: repo}, nil
}
