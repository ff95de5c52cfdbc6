package solver

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrNoSelection means no unambiguous selection could be extracted from a
// solver result. Callers must fall back to classical selection rather than
// defaulting to an arbitrary proposal.
var ErrNoSelection = errors.New("no unambiguous selection in solver result")

// ExtractSelection reduces a raw solver result to the set of selected variable
// indices under the strict contract: a binary vector of length n. The legacy
// shapes (named-variable map, energy/occurrence samples) are adapted onto that
// same contract; anything that does not fit is an error, never a guess.
func ExtractSelection(res *RawResult, n int) ([]int, error) {
	if res == nil {
		return nil, ErrNoSelection
	}

	switch {
	case len(res.Solutions) > 0:
		return fromVector(res.Solutions[0], n)
	case len(res.Variables) > 0:
		return fromVariables(res.Variables, n)
	case len(res.Samples) > 0:
		return fromSamples(res.Samples, n)
	default:
		return nil, ErrNoSelection
	}
}

// fromVector validates the preferred shape: binary vector of length n.
func fromVector(vec []int, n int) ([]int, error) {
	if len(vec) != n {
		return nil, fmt.Errorf("%w: vector length %d, want %d", ErrNoSelection, len(vec), n)
	}
	selected := make([]int, 0, n)
	for i, v := range vec {
		switch v {
		case 0:
		case 1:
			selected = append(selected, i)
		default:
			return nil, fmt.Errorf("%w: non-binary value %d at index %d", ErrNoSelection, v, i)
		}
	}
	return selected, nil
}

// fromVariables adapts a named-variable map ("x0": 1 or "0": 1) onto the
// strict vector contract. Every index 0..n-1 must be present exactly once.
func fromVariables(vars map[string]float64, n int) ([]int, error) {
	vec := make([]int, n)
	seen := make([]bool, n)

	for name, val := range vars {
		idx, err := variableIndex(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoSelection, err)
		}
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: variable %q out of range [0,%d)", ErrNoSelection, name, n)
		}
		if seen[idx] {
			return nil, fmt.Errorf("%w: variable index %d assigned twice", ErrNoSelection, idx)
		}
		seen[idx] = true

		switch {
		case math.Abs(val) < 1e-9:
			vec[idx] = 0
		case math.Abs(val-1) < 1e-9:
			vec[idx] = 1
		default:
			return nil, fmt.Errorf("%w: non-binary value %v for %q", ErrNoSelection, val, name)
		}
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: variable index %d missing", ErrNoSelection, i)
		}
	}
	return fromVector(vec, n)
}

func variableIndex(name string) (int, error) {
	trimmed := strings.TrimPrefix(name, "x")
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("unparseable variable name %q", name)
	}
	return idx, nil
}

// fromSamples picks the lowest-energy sample (ties broken by higher
// occurrence count) and validates its solution vector.
func fromSamples(samples []Sample, n int) ([]int, error) {
	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Energy != ordered[j].Energy {
			return ordered[i].Energy < ordered[j].Energy
		}
		return ordered[i].Occurrences > ordered[j].Occurrences
	})

	best := ordered[0]
	if len(best.Solution) == 0 {
		return nil, fmt.Errorf("%w: best sample carries no solution vector", ErrNoSelection)
	}
	return fromVector(best.Solution, n)
}
