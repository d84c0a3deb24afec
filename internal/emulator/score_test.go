package emulator

import (
	"math"
	"testing"

	"github.com/ratlabs/vecstore/internal/vectorstore"
)

func TestEncodeDecodeFloat32s(t *testing.T) {
	orig := []float32{1.5, -2.25, 0, math.MaxFloat32}
	got := decodeFloat32s(encodeFloat32s(orig))
	if len(got) != len(orig) {
		t.Fatalf("expected %d values, got %d", len(orig), len(got))
	}
	for i := range orig {
		if got[i] != orig[i] {
			t.Errorf("index %d: expected %v, got %v", i, orig[i], got[i])
		}
	}
	if decodeFloat32s([]byte{1, 2, 3}) != nil {
		t.Error("expected nil for truncated blob")
	}
}

func TestScorers(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 2}
	if s := cosineSimilarity(a, a); math.Abs(float64(s)-1) > 1e-6 {
		t.Errorf("cosine self: %v", s)
	}
	if s := cosineSimilarity(a, b); math.Abs(float64(s)) > 1e-6 {
		t.Errorf("cosine orthogonal: %v", s)
	}
	if s := cosineSimilarity(a, []float32{0, 0}); s != 0 {
		t.Errorf("cosine zero vector: %v", s)
	}
	if s := dotProduct([]float32{1, 2}, []float32{3, 4}); s != 11 {
		t.Errorf("dot: %v", s)
	}
	if s := euclideanScore(a, a); s != 1 {
		t.Errorf("euclidean self: %v", s)
	}
	// |a-b|^2 = 1 + 4
	if s := euclideanScore(a, b); math.Abs(float64(s)-1.0/6) > 1e-6 {
		t.Errorf("euclidean: %v", s)
	}
}

func TestRank(t *testing.T) {
	recs := []vectorstore.Record{
		{ID: "far", Values: []float32{-1, 0}},
		{ID: "b", Values: []float32{1, 0}},
		{ID: "a", Values: []float32{1, 0}},
		{ID: "odd", Values: []float32{1, 0, 0}},
		{ID: "mid", Values: []float32{1, 1}},
	}
	got := rank(vectorstore.MetricCosine, []float32{1, 0}, recs, 3)
	want := []string{"a", "b", "mid"}
	if len(got) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}
