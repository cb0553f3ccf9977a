package tensor

import "testing"

func TestNewZeroInitialised(t *testing.T) {
	tr := New(2, 3, 4)
	if tr.Elems() != 24 {
		t.Fatalf("expected 24 elements, got %d", tr.Elems())
	}
	if tr.Rank() != 3 {
		t.Fatalf("expected rank 3, got %d", tr.Rank())
	}
	for i, v := range tr.Data {
		if v != 0 {
			t.Fatalf("element %d not zero: %v", i, v)
		}
	}
}

func TestAtSetRowMajor(t *testing.T) {
	tr := New(2, 3)
	tr.Set(7, 1, 2)
	if got := tr.At(1, 2); got != 7 {
		t.Fatalf("At(1,2): expected 7, got %v", got)
	}
	// Row-major layout: (1,2) is flat index 1*3+2.
	if tr.Data[5] != 7 {
		t.Fatalf("expected flat index 5 to hold 7, got %v", tr.Data[5])
	}
}

func TestFromDataShapeMismatch(t *testing.T) {
	if _, err := FromData(make([]float32, 5), 2, 3); err == nil {
		t.Fatal("expected error for mismatched shape")
	}
	tr, err := FromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("FromData returned error: %v", err)
	}
	if tr.At(0, 1) != 2 {
		t.Fatalf("expected At(0,1)=2, got %v", tr.At(0, 1))
	}
}
