package config

import (
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Range is an inclusive [Min, Max] pair. YAML accepts either a scalar or a two-element list.
type Range struct {
	Min float64
	Max float64
}

// Fixed returns a range holding a single value.
func Fixed(v float64) Range { return Range{Min: v, Max: v} }

// Between returns a normalised range.
func Between(a, b float64) Range {
	if a > b {
		a, b = b, a
	}
	return Range{Min: a, Max: b}
}

// IsZero reports whether both bounds are zero.
func (r Range) IsZero() bool { return r.Min == 0 && r.Max == 0 }

// Float returns a uniform value in [Min, Max].
func (r Range) Float(rng *rand.Rand) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Int returns a uniform integer in [ceil(Min), floor(Max)].
func (r Range) Int(rng *rand.Rand) int {
	lo, hi := int(math.Ceil(r.Min)), int(math.Floor(r.Max))
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}

// Duration treats the bounds as seconds.
func (r Range) Duration(rng *rand.Rand) time.Duration {
	return time.Duration(r.Float(rng) * float64(time.Second))
}

// Amount returns a token amount rounded to 6 decimals.
func (r Range) Amount(rng *rand.Rand) float64 {
	return math.Round(r.Float(rng)*1e6) / 1e6
}

func (r Range) String() string {
	if r.Min == r.Max {
		return strconv.FormatFloat(r.Min, 'f', -1, 64)
	}
	return fmt.Sprintf("%s-%s", strconv.FormatFloat(r.Min, 'f', -1, 64), strconv.FormatFloat(r.Max, 'f', -1, 64))
}

var rangeType = reflect.TypeOf(Range{})

// rangeHook decodes scalars, lists and "a-b" strings into Range.
func rangeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != rangeType {
		return data, nil
	}
	switch v := data.(type) {
	case Range:
		return v, nil
	case []any:
		switch len(v) {
		case 0:
			return Range{}, nil
		case 1:
			f, err := toFloat(v[0])
			if err != nil {
				return nil, err
			}
			return Fixed(f), nil
		case 2:
			a, err := toFloat(v[0])
			if err != nil {
				return nil, err
			}
			b, err := toFloat(v[1])
			if err != nil {
				return nil, err
			}
			return Between(a, b), nil
		default:
			return nil, fmt.Errorf("range expects at most 2 values, got %d", len(v))
		}
	case string:
		s := strings.Trim(strings.TrimSpace(v), "[]")
		if s == "" {
			return Range{}, nil
		}
		sep := ","
		if !strings.Contains(s, ",") && strings.Count(s, "-") == 1 && !strings.HasPrefix(s, "-") {
			sep = "-"
		}
		parts := strings.Split(s, sep)
		vals := make([]any, 0, len(parts))
		for _, p := range parts {
			vals = append(vals, strings.TrimSpace(p))
		}
		return rangeHook(nil, to, vals)
	default:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return Fixed(f), nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("range value %q: %w", n, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("range value of type %T", v)
	}
}
