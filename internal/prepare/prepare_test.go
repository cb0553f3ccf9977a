package prepare

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/gabewillen/mlx-vlm/internal/imgproc"
)

// wordProcessor assigns each whitespace-separated word a stable id, enough
// to check splicing arithmetic without a real tokenizer.
type wordProcessor struct {
	vocab map[string]int32
}

func newWordProcessor() *wordProcessor {
	return &wordProcessor{vocab: map[string]int32{}}
}

func (p *wordProcessor) Encode(text string) ([]int32, error) {
	var ids []int32
	for _, w := range strings.Fields(text) {
		id, ok := p.vocab[w]
		if !ok {
			id = int32(len(p.vocab) + 1)
			p.vocab[w] = id
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *wordProcessor) Decode(ids []int32) (string, error) { return "", nil }

func (p *wordProcessor) EOSTokenID() int32 { return 0 }

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	return img
}

func testImgProc() *imgproc.Processor {
	cfg := imgproc.DefaultConfig()
	cfg.Width, cfg.Height = 8, 8
	return imgproc.NewProcessor(cfg)
}

// TestSplitConventionLengthLaw checks the spliced sequence length equals
// len(left) + 1 + len(right) with the sentinel in between.
func TestSplitConventionLengthLaw(t *testing.T) {
	proc := newWordProcessor()
	left, _ := proc.Encode("describe this")
	right, _ := proc.Encode("briefly please now")

	in, err := Prepare(ConventionSplit, proc, testImgProc(), testImage(),
		"describe this <image> briefly please now")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	wantLen := len(left) + 1 + len(right)
	if len(in.TokenIDs) != wantLen {
		t.Fatalf("expected %d tokens, got %d", wantLen, len(in.TokenIDs))
	}
	if in.TokenIDs[len(left)] != SentinelID {
		t.Fatalf("expected sentinel at index %d, got %d", len(left), in.TokenIDs[len(left)])
	}
}

// TestSplitConventionMarkerAtStart mirrors the default prompt, which opens
// with the marker and has an empty left segment.
func TestSplitConventionMarkerAtStart(t *testing.T) {
	proc := newWordProcessor()
	in, err := Prepare(ConventionSplit, proc, testImgProc(), testImage(),
		"<image>\nWhat are these?")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if in.TokenIDs[0] != SentinelID {
		t.Fatalf("expected sentinel first, got %d", in.TokenIDs[0])
	}
}

func TestSplitConventionMalformed(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		markers int
	}{
		{"no marker", "what is this?", 0},
		{"two markers", "<image> and <image> compare", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Prepare(ConventionSplit, newWordProcessor(), testImgProc(), testImage(), tc.prompt)
			if !errors.Is(err, ErrMalformedPrompt) {
				t.Fatalf("expected ErrMalformedPrompt, got %v", err)
			}
			var me *MalformedPromptError
			if !errors.As(err, &me) {
				t.Fatalf("expected *MalformedPromptError, got %T", err)
			}
			if me.Markers != tc.markers {
				t.Fatalf("expected %d markers reported, got %d", tc.markers, me.Markers)
			}
		})
	}
}

// TestJointConvention checks the joint path tokenizes the prompt as one
// piece, marker included, with no sentinel splice.
func TestJointConvention(t *testing.T) {
	proc := newWordProcessor()
	in, err := Prepare(ConventionJoint, proc, testImgProc(), testImage(),
		"<image> what are these")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	for _, id := range in.TokenIDs {
		if id == SentinelID {
			t.Fatal("joint convention must not splice the sentinel")
		}
	}
}

// TestPixelsBatchedToOne checks both conventions produce a batch-1 pixel
// tensor.
func TestPixelsBatchedToOne(t *testing.T) {
	for _, conv := range []Convention{ConventionSplit, ConventionJoint} {
		t.Run(conv.String(), func(t *testing.T) {
			prompt := "<image> hi"
			in, err := Prepare(conv, newWordProcessor(), testImgProc(), testImage(), prompt)
			if err != nil {
				t.Fatalf("Prepare returned error: %v", err)
			}
			if in.Pixels.Rank() != 4 || in.Pixels.Dim(0) != 1 {
				t.Fatalf("expected [1,3,h,w] pixels, got shape %v", in.Pixels.Shape)
			}
		})
	}
}
