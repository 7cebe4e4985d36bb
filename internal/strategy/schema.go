package strategy

import (
	"encoding/json"
	"strconv"

	"github.com/invopop/jsonschema"
)

// Schema publishes a strategy's parameters as a JSON Schema object so
// clients can render bounded inputs.
func Schema(s Strategy) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	for _, p := range s.Params() {
		prop := &jsonschema.Schema{
			Description: p.Description,
		}
		switch p.Kind {
		case KindBool:
			prop.Type = "boolean"
			prop.Default = p.Default != 0
		case KindInteger:
			prop.Type = "integer"
			prop.Default = int(p.Default)
		default:
			prop.Type = "number"
			prop.Default = p.Default
		}
		if p.Kind != KindBool {
			prop.Minimum = number(p.Min)
			prop.Maximum = number(p.Max)
			if p.Step > 0 {
				prop.MultipleOf = number(p.Step)
			}
		}
		props.Set(p.Key, prop)
	}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Type:        "object",
		Title:       s.Name(),
		Description: s.Description(),
		Properties:  props,
	}
}

func number(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}
