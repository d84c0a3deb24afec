package emulator

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/ratlabs/vecstore/internal/vectorstore"
)

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

func dotProduct(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// euclideanScore maps squared distance into (0, 1] so larger is closer.
func euclideanScore(a, b []float32) float32 {
	var d2 float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		d2 += d * d
	}
	return float32(1 / (1 + d2))
}

func scorer(m vectorstore.Metric) func(a, b []float32) float32 {
	switch m {
	case vectorstore.MetricDotProduct:
		return dotProduct
	case vectorstore.MetricEuclidean:
		return euclideanScore
	default:
		return cosineSimilarity
	}
}

// rank scores every record against q, drops dimension mismatches and returns
// the best topK by descending score, ties broken by ID.
func rank(metric vectorstore.Metric, q []float32, records []vectorstore.Record, topK int) []vectorstore.Match {
	score := scorer(metric)
	out := make([]vectorstore.Match, 0, len(records))
	for _, r := range records {
		if len(r.Values) != len(q) {
			continue
		}
		out = append(out, vectorstore.Match{ID: r.ID, Score: score(q, r.Values), Values: r.Values, Metadata: r.Metadata})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
