package recognizer

import (
	"fmt"
	"math"
	"sort"

	"medscan-go/internal/core/vision"
)

// DefaultThreshold is the reference confidence gate.
const DefaultThreshold = 0.70

// ProbabilityTolerance is the rounding slack allowed above 1 per element and
// around 1 for the sum. Anything beyond it is a raw score vector, not
// probabilities.
const ProbabilityTolerance = 1e-3

// Argmax returns the maximum of v and the first index holding it.
// v must not be empty.
func Argmax(v []float64) (int, float64) {
	best, bestIdx := v[0], 0
	for i := 1; i < len(v); i++ {
		if v[i] > best {
			best, bestIdx = v[i], i
		}
	}
	return bestIdx, best
}

// Interpret applies the confidence gate to a probability vector.
//
// Ties resolve to the lowest index. A confidence equal to threshold counts as
// confident. Values above 1 within ProbabilityTolerance are clamped; vectors
// that are not probabilities (e.g. logits) are rejected with ErrInference.
func Interpret(v []float64, labels *LabelSet, threshold float64) (State, int, error) {
	if err := validate(v, labels); err != nil {
		return State{}, -1, err
	}

	idx, conf := Argmax(v)
	conf = math.Min(conf, 1)

	if conf >= threshold {
		return State{Label: labels.Name(idx), Confidence: conf, Status: StatusConfident}, idx, nil
	}
	return State{Confidence: conf, Status: StatusUncertain}, idx, nil
}

// TopK returns up to k labels ordered by descending probability, ties by index.
func TopK(v []float64, labels *LabelSet, k int) []Score {
	if k <= 0 || len(v) != labels.Len() {
		return nil
	}
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return v[idx[a]] > v[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}
	out := make([]Score, k)
	for i := 0; i < k; i++ {
		out[i] = Score{Label: labels.Name(idx[i]), Confidence: math.Min(v[idx[i]], 1)}
	}
	return out
}

func validate(v []float64, labels *LabelSet) error {
	if labels == nil {
		return fmt.Errorf("%w: no label set", vision.ErrInference)
	}
	if len(v) != labels.Len() {
		return fmt.Errorf("%w: output width %d does not match %d labels", vision.ErrInference, len(v), labels.Len())
	}
	var sum float64
	for i, p := range v {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1+ProbabilityTolerance {
			return fmt.Errorf("%w: invalid probability %v at index %d", vision.ErrInference, p, i)
		}
		sum += p
	}
	if math.Abs(sum-1) > ProbabilityTolerance {
		return fmt.Errorf("%w: probabilities sum to %v (missing softmax?)", vision.ErrInference, sum)
	}
	return nil
}
