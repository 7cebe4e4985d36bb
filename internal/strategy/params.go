package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/newthinker/arena/internal/core"
)

// Kind is the value type of a parameter.
type Kind string

const (
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBool    Kind = "bool"
)

// ParamSpec documents one tunable parameter and its bounds.
type ParamSpec struct {
	Key         string
	Description string
	Kind        Kind
	Min         float64
	Max         float64
	Step        float64
	Default     float64
}

// Number declares a continuous parameter.
func Number(key, desc string, min, max, step, def float64) ParamSpec {
	return ParamSpec{Key: key, Description: desc, Kind: KindNumber, Min: min, Max: max, Step: step, Default: def}
}

// Integer declares a whole-number parameter.
func Integer(key, desc string, min, max, def int) ParamSpec {
	return ParamSpec{Key: key, Description: desc, Kind: KindInteger, Min: float64(min), Max: float64(max), Step: 1, Default: float64(def)}
}

// Bool declares an on/off parameter, stored as 0 or 1.
func Bool(key, desc string, def bool) ParamSpec {
	d := 0.0
	if def {
		d = 1
	}
	return ParamSpec{Key: key, Description: desc, Kind: KindBool, Min: 0, Max: 1, Step: 1, Default: d}
}

// Params are resolved parameter values. Booleans are 0 or 1.
type Params map[string]float64

// Float returns the value for key.
func (p Params) Float(key string) float64 { return p[key] }

// Int returns the value for key as an int.
func (p Params) Int(key string) int { return int(p[key]) }

// Bool returns the value for key as a bool.
func (p Params) Bool(key string) bool { return p[key] != 0 }

// Raw converts stored float params to the loosely typed request form.
func Raw(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Defaults returns the default value of every parameter of s.
func Defaults(s Strategy) Params {
	out := make(Params, len(s.Params()))
	for _, spec := range s.Params() {
		out[spec.Key] = spec.Default
	}
	return out
}

// Resolve validates raw against s's parameter specs. Missing keys take their
// default, integers are rounded, unknown keys are ignored. A value outside
// [Min, Max] or of the wrong type is rejected naming the key.
func Resolve(s Strategy, raw map[string]any) (Params, error) {
	out := make(Params, len(s.Params()))
	for _, spec := range s.Params() {
		v, ok := raw[spec.Key]
		if !ok || v == nil {
			out[spec.Key] = spec.Default
			continue
		}
		f, err := coerce(spec, v)
		if err != nil {
			return nil, err
		}
		if spec.Kind == KindInteger {
			f = math.Round(f)
		}
		if f < spec.Min || f > spec.Max {
			return nil, core.InvalidParam(&core.ParamError{Key: spec.Key, Value: v, Min: spec.Min, Max: spec.Max})
		}
		out[spec.Key] = f
	}

	if v, ok := s.(Validator); ok {
		if err := v.Validate(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func coerce(spec ParamSpec, v any) (float64, error) {
	bad := func(reason string) error {
		return core.InvalidParam(&core.ParamError{Key: spec.Key, Value: v, Min: spec.Min, Max: spec.Max, Reason: reason})
	}

	var f float64
	switch x := v.(type) {
	case bool:
		if x {
			f = 1
		}
		return f, nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, bad("not a number")
		}
		f = n
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return 1, nil
		case "false":
			return 0, nil
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, bad("not a number")
		}
		f = n
	default:
		return 0, bad(fmt.Sprintf("unsupported type %T", v))
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, bad("not a finite number")
	}
	if spec.Kind == KindBool && f != 0 && f != 1 {
		return 0, bad("must be true or false")
	}
	return f, nil
}

// Ordered rejects configurations where the fast period is not below the slow one.
func Ordered(p Params, fastKey, slowKey string) error {
	if p[fastKey] >= p[slowKey] {
		return core.InvalidParam(&core.ParamError{
			Key:    fastKey,
			Value:  p[fastKey],
			Reason: fmt.Sprintf("must be less than %s (%g)", slowKey, p[slowKey]),
		})
	}
	return nil
}
