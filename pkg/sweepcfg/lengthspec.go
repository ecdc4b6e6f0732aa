package sweepcfg

import "errors"

// LengthKind selects how a length dimension is declared.
type LengthKind string

// Supported length declaration kinds.
const (
	LengthFixed LengthKind = "fixed"
	LengthList  LengthKind = "list"
	LengthRange LengthKind = "range"
)

// LengthSpec declares one token-length dimension of the sweep. Only the
// fields matching Type are consulted: Value for fixed, Values for list,
// Min/Max/Step for range.
type LengthSpec struct {
	Type   LengthKind `yaml:"type"`
	Value  int        `yaml:"value,omitempty"`
	Values []int      `yaml:"values,omitempty"`
	Min    int        `yaml:"min,omitempty"`
	Max    int        `yaml:"max,omitempty"`
	Step   int        `yaml:"step,omitempty"`
}

// Fixed declares a single-value length dimension.
func Fixed(v int) LengthSpec {
	return LengthSpec{Type: LengthFixed, Value: v}
}

// List declares an explicit ordered length dimension.
func List(vs ...int) LengthSpec {
	return LengthSpec{Type: LengthList, Values: vs}
}

// Range declares an inclusive arithmetic length dimension.
func Range(min, max, step int) LengthSpec {
	return LengthSpec{Type: LengthRange, Min: min, Max: max, Step: step}
}

// Resolve expands the spec into its concrete ordered values. Duplicates are
// dropped with first occurrence winning; every value must be positive. A
// malformed spec resolves to a *ConfigError, never to an empty sequence.
func (s LengthSpec) Resolve() ([]int, error) {
	var raw []int
	switch s.Type {
	case LengthFixed:
		if s.Value == 0 {
			return nil, &ConfigError{Reason: "fixed length requires a value"}
		}
		raw = []int{s.Value}
	case LengthList:
		if len(s.Values) == 0 {
			return nil, &ConfigError{Reason: "list length requires at least one value"}
		}
		raw = s.Values
	case LengthRange:
		if s.Step <= 0 {
			return nil, errConfig("", "range step must be positive, got %d", s.Step)
		}
		if s.Min > s.Max {
			return nil, errConfig("", "range min %d exceeds max %d", s.Min, s.Max)
		}
		for v := s.Min; v <= s.Max; v += s.Step {
			raw = append(raw, v)
		}
	case "":
		return nil, &ConfigError{Reason: "length type is required (fixed, list or range)"}
	default:
		return nil, errConfig("", "unknown length type %q", s.Type)
	}

	out := make([]int, 0, len(raw))
	seen := make(map[int]bool, len(raw))
	for _, v := range raw {
		if v <= 0 {
			return nil, errConfig("", "length values must be positive, got %d", v)
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// ResolveLengths resolves a length spec and stamps the config field name
// onto any resulting ConfigError.
func ResolveLengths(field string, spec LengthSpec) ([]int, error) {
	vals, err := spec.Resolve()
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return nil, &ConfigError{Field: field, Reason: ce.Reason}
		}
		return nil, err
	}
	return vals, nil
}
