package vector

import (
	"cmp"
	"math"
	"slices"
)

// Cosine returns dot(a, b) / (|a| * |b|). Both vectors must have the same
// length and a non-zero norm.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}

	if na == 0 || nb == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))

	// rounding can push identical vectors slightly past 1
	return max(-1, min(1, sim))
}

func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	return math.Sqrt(sum)
}

// ValidateEmbedding checks an embedding against the store dimension.
// A dim of 0 skips the length check.
func ValidateEmbedding(id string, v []float32, dim int) error {
	if len(v) == 0 {
		return &InvalidVectorError{ID: id, Reason: "empty embedding"}
	}

	if dim > 0 && len(v) != dim {
		return &DimensionMismatchError{ID: id, Expected: dim, Actual: len(v)}
	}

	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return &InvalidVectorError{ID: id, Reason: "embedding contains NaN or Inf"}
		}
	}

	if Norm(v) == 0 {
		return &InvalidVectorError{ID: id, Reason: "zero-norm embedding"}
	}

	return nil
}

func ValidateRecord(r Record, dim int) error {
	if r.ID == "" {
		return &InvalidArgumentError{Name: "id", Reason: "must not be empty"}
	}

	return ValidateEmbedding(r.ID, r.Embedding, dim)
}

// ValidateQuery checks search arguments in the order callers rely on:
// k first, then the dimension, then the vector itself.
func ValidateQuery(query []float32, k int, dim int) error {
	if k <= 0 {
		return &InvalidArgumentError{Name: "k", Reason: "must be positive"}
	}

	if dim > 0 && len(query) != dim {
		return &DimensionMismatchError{Expected: dim, Actual: len(query)}
	}

	return ValidateEmbedding("", query, 0)
}

// Candidate is a scored record before ranking. Seq orders ties; lower is older.
type Candidate struct {
	Record Record
	Score  float64
	Seq    int64
}

// TopK sorts candidates by score descending, then by Seq and ID ascending,
// and keeps at most k of them.
func TopK(cands []Candidate, k int) []ScoredRecord {
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}

		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}

		return cmp.Compare(a.Record.ID, b.Record.ID)
	})

	if len(cands) > k {
		cands = cands[:k]
	}

	results := make([]ScoredRecord, len(cands))
	for i, c := range cands {
		results[i] = ScoredRecord{
			Record: c.Record,
			Score:  c.Score,
		}
	}

	return results
}

// OverFetch is the candidate count requested from approximate or remote
// indexes so that ties and filtered records can be re-ranked locally.
func OverFetch(k int) int {
	return max(4*k, k+16)
}
