// Package imgproc converts a decoded image into the normalized pixel tensor
// a vision-language model consumes, following the model's
// preprocessor_config.json.
package imgproc

import (
	"fmt"
	"image"

	json "github.com/goccy/go-json"
	"golang.org/x/image/draw"

	"github.com/gabewillen/mlx-vlm/internal/tensor"
)

// Config describes how pixels are prepared: target size, per-channel
// normalization, and optional center crop. Values mirror the HuggingFace
// preprocessor_config.json conventions.
type Config struct {
	Width         int
	Height        int
	Mean          [3]float32
	Std           [3]float32
	RescaleFactor float32
	DoCenterCrop  bool
}

// DefaultConfig returns 224x224 with ImageNet normalization, the fallback
// used when a model ships no preprocessor config.
func DefaultConfig() Config {
	return Config{
		Width:         224,
		Height:        224,
		Mean:          [3]float32{0.485, 0.456, 0.406},
		Std:           [3]float32{0.229, 0.224, 0.225},
		RescaleFactor: 1.0 / 255.0,
	}
}

// rawConfig matches the loosely-typed JSON on disk. The size field appears
// as a bare number, {"height","width"} or {"shortest_edge"} depending on the
// processor class that wrote it.
type rawConfig struct {
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
	RescaleFactor float32   `json:"rescale_factor"`
	DoCenterCrop  bool      `json:"do_center_crop"`
	Size          any       `json:"size"`
	CropSize      any       `json:"crop_size"`
}

// ParseConfig decodes preprocessor_config.json bytes into a Config,
// filling any missing field from DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse preprocessor config: %w", err)
	}

	cfg := DefaultConfig()
	if w, h := extractSize(raw.Size); w > 0 && h > 0 {
		cfg.Width, cfg.Height = w, h
	}
	if w, h := extractSize(raw.CropSize); w > 0 && h > 0 && raw.DoCenterCrop {
		cfg.Width, cfg.Height = w, h
	}
	if len(raw.ImageMean) == 3 {
		copy(cfg.Mean[:], raw.ImageMean)
	}
	if len(raw.ImageStd) == 3 {
		copy(cfg.Std[:], raw.ImageStd)
	}
	if raw.RescaleFactor > 0 {
		cfg.RescaleFactor = raw.RescaleFactor
	}
	cfg.DoCenterCrop = raw.DoCenterCrop
	return cfg, nil
}

// extractSize pulls width and height out of the JSON size variants. The
// scalar and shortest_edge forms describe a square; the height/width form
// keeps its two dimensions.
func extractSize(v any) (w, h int) {
	switch val := v.(type) {
	case float64:
		return int(val), int(val)
	case int:
		return val, val
	case map[string]any:
		if wv, ok := val["width"].(float64); ok {
			w = int(wv)
		}
		if hv, ok := val["height"].(float64); ok {
			h = int(hv)
		}
		if w == 0 && h == 0 {
			if se, ok := val["shortest_edge"].(float64); ok {
				return int(se), int(se)
			}
		}
		// One of the pair given: use it for both.
		if w == 0 {
			w = h
		}
		if h == 0 {
			h = w
		}
	}
	return w, h
}

// Processor scales and normalizes images according to a Config.
type Processor struct {
	cfg Config
}

// NewProcessor creates a Processor for the given Config.
func NewProcessor(cfg Config) *Processor {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg = DefaultConfig()
	}
	return &Processor{cfg: cfg}
}

// Config returns the active preprocessing configuration.
func (p *Processor) Config() Config { return p.cfg }

// Process resizes img to the configured dimensions (with an optional center
// crop of the shorter side first), rescales each channel and applies
// mean/std normalization. The result is shaped [1, 3, height, width]:
// batch size 1, channels first.
func (p *Processor) Process(img image.Image) (*tensor.Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("process image: nil image")
	}

	src := img
	if p.cfg.DoCenterCrop {
		src = centerCropSquare(src)
	}

	dst := image.NewRGBA(image.Rect(0, 0, p.cfg.Width, p.cfg.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := tensor.New(1, 3, p.cfg.Height, p.cfg.Width)
	for y := 0; y < p.cfg.Height; y++ {
		for x := 0; x < p.cfg.Width; x++ {
			r, g, b, _ := dst.At(x, y).RGBA()
			// RGBA returns 16-bit channels; bring back to 0..255 first.
			out.Set(normalize(float32(r>>8), p.cfg.RescaleFactor, p.cfg.Mean[0], p.cfg.Std[0]), 0, 0, y, x)
			out.Set(normalize(float32(g>>8), p.cfg.RescaleFactor, p.cfg.Mean[1], p.cfg.Std[1]), 0, 1, y, x)
			out.Set(normalize(float32(b>>8), p.cfg.RescaleFactor, p.cfg.Mean[2], p.cfg.Std[2]), 0, 2, y, x)
		}
	}
	return out, nil
}

func normalize(v, rescale, mean, std float32) float32 {
	if std == 0 {
		std = 1
	}
	return (v*rescale - mean) / std
}

// centerCropSquare crops the largest centered square from img.
func centerCropSquare(img image.Image) image.Image {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	rect := image.Rect(x0, y0, x0+side, y0+side)

	cropped := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Copy(cropped, image.Point{}, img, rect, draw.Src, nil)
	return cropped
}
