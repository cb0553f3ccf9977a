package onnx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSentinelIndex(t *testing.T) {
	if got := sentinelIndex([]int32{1, 2, -200, 3}, -200); got != 2 {
		t.Fatalf("expected index 2, got %d", got)
	}
	if got := sentinelIndex([]int32{1, 2, 3}, -200); got != -1 {
		t.Fatalf("expected -1 for absent sentinel, got %d", got)
	}
}

func TestPlaceholderIDs(t *testing.T) {
	got := placeholderIDs([]int32{5, -200, 7}, -200)
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("expected 1x3 matrix, got %v", got)
	}
	want := []int64{5, 0, 7}
	for i, v := range want {
		if got[0][i] != v {
			t.Fatalf("position %d: expected %d, got %d", i, v, got[0][i])
		}
	}
}

func TestSpliceFeatures(t *testing.T) {
	// Three token embeddings of dim 2, sentinel at position 1, two
	// image feature vectors. Result: tok0, feat0, feat1, tok2.
	embeds := []float32{1, 1, 9, 9, 3, 3}
	features := []float32{7, 7, 8, 8}
	got := spliceFeatures(embeds, 3, 2, features, 2, 1)

	want := []float32{1, 1, 7, 7, 8, 8, 3, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(got))
	}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("value %d: expected %v, got %v", i, v, got[i])
		}
	}
}

func TestSpliceFeaturesAtStart(t *testing.T) {
	embeds := []float32{9, 9, 2, 2}
	features := []float32{5, 5}
	got := spliceFeatures(embeds, 2, 2, features, 1, 0)
	want := []float32{5, 5, 2, 2}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("value %d: expected %v, got %v", i, v, got[i])
		}
	}
}

func TestOnesMask(t *testing.T) {
	got := onesMask(4)
	if len(got) != 1 || len(got[0]) != 4 {
		t.Fatalf("expected 1x4 mask, got %v", got)
	}
	for i, v := range got[0] {
		if v != 1 {
			t.Fatalf("position %d: expected 1, got %d", i, v)
		}
	}
}

func TestPositionRange(t *testing.T) {
	got := positionRange(7, 3)
	want := []int64{7, 8, 9}
	for i, v := range want {
		if got[0][i] != v {
			t.Fatalf("position %d: expected %d, got %d", i, v, got[0][i])
		}
	}
}

// dirPaths serves files from a plain directory for findFile tests.
type dirPaths struct {
	dir string
}

func (d dirPaths) Path(name string) (string, error) {
	p := filepath.Join(d.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

func TestFindFilePrefersEarlierCandidates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"decoder_model.onnx", "model.onnx"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := findFile(dirPaths{dir}, decoderFiles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(got) != "decoder_model.onnx" {
		t.Fatalf("expected decoder_model.onnx, got %s", got)
	}
}

func TestFindFilePrefersOnnxSubdirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "onnx"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join("onnx", "model.onnx"), "model.onnx"} {
		if err := os.WriteFile(filepath.Join(dir, p), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := findFile(dirPaths{dir}, decoderFiles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(got) != filepath.Join(dir, "onnx") {
		t.Fatalf("expected onnx/ path, got %s", got)
	}
}

func TestFindFileMissing(t *testing.T) {
	if _, err := findFile(dirPaths{t.TempDir()}, visionFiles); err == nil {
		t.Fatal("expected error when no candidate exists")
	}
}
