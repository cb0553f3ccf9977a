// Package prepare converts a formatted prompt string and a decoded image
// into the numeric inputs a model family expects.
package prepare

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/gabewillen/mlx-vlm/internal/imgproc"
	"github.com/gabewillen/mlx-vlm/internal/tensor"
	"github.com/gabewillen/mlx-vlm/internal/tokenizer"
)

// ImageToken is the placeholder marker users put in prompts.
const ImageToken = "<image>"

// SentinelID is the reserved token id spliced where the image embedding
// goes under the split-prompt convention. The model side replaces this
// position with image features.
const SentinelID int32 = -200

// ErrMalformedPrompt anchors errors.Is checks for placeholder mismatches.
var ErrMalformedPrompt = errors.New("malformed_prompt")

// MalformedPromptError reports a prompt whose image placeholders do not
// match what the split-prompt convention requires.
type MalformedPromptError struct {
	Prompt  string
	Markers int
}

func (e *MalformedPromptError) Error() string {
	return fmt.Sprintf("prompt must contain exactly one %q marker, found %d", ImageToken, e.Markers)
}

func (e *MalformedPromptError) Unwrap() error { return ErrMalformedPrompt }

// Convention selects how prompt text and image combine into model inputs.
// It is detected once at model load time and passed explicitly; it is never
// process-wide state.
type Convention int

const (
	// ConventionSplit tokenizes the text on each side of the image marker
	// separately and splices SentinelID between them (nanoLLaVA style).
	ConventionSplit Convention = iota
	// ConventionJoint hands prompt and image to one combined processor.
	ConventionJoint
)

func (c Convention) String() string {
	if c == ConventionSplit {
		return "split"
	}
	return "joint"
}

// Inputs are the prepared model inputs: a token id sequence and a pixel
// tensor batched to batch size 1.
type Inputs struct {
	TokenIDs []int32
	Pixels   *tensor.Tensor
}

// Prepare builds Inputs for the given convention.
func Prepare(conv Convention, proc tokenizer.Processor, imgProc *imgproc.Processor, img image.Image, prompt string) (*Inputs, error) {
	pixels, err := imgProc.Process(img)
	if err != nil {
		return nil, fmt.Errorf("preprocess image: %w", err)
	}

	var ids []int32
	switch conv {
	case ConventionSplit:
		ids, err = spliceSentinel(proc, prompt)
	case ConventionJoint:
		ids, err = proc.Encode(prompt)
	default:
		return nil, fmt.Errorf("unknown input convention %d", conv)
	}
	if err != nil {
		return nil, err
	}

	return &Inputs{TokenIDs: ids, Pixels: pixels}, nil
}

// spliceSentinel splits the prompt on its single image marker, tokenizes
// the two text segments independently, and joins them around SentinelID.
func spliceSentinel(proc tokenizer.Processor, prompt string) ([]int32, error) {
	chunks := strings.Split(prompt, ImageToken)
	if len(chunks) != 2 {
		return nil, &MalformedPromptError{Prompt: prompt, Markers: len(chunks) - 1}
	}

	left, err := proc.Encode(chunks[0])
	if err != nil {
		return nil, fmt.Errorf("tokenize prompt before marker: %w", err)
	}
	right, err := proc.Encode(chunks[1])
	if err != nil {
		return nil, fmt.Errorf("tokenize prompt after marker: %w", err)
	}

	ids := make([]int32, 0, len(left)+1+len(right))
	ids = append(ids, left...)
	ids = append(ids, SentinelID)
	ids = append(ids, right...)
	return ids, nil
}
