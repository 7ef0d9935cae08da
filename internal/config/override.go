package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// FromMap rebuilds a config from the generic form produced by Map, layered
// over the defaults. Stored run records use it for replay.
func FromMap(values map[string]any) (RunConfig, error) {
	return Default().Override(values)
}

// Override decodes values (keyed by the json field names, nested for the
// problem, grammar and tuning sections) over a copy of c. Lists replace the
// existing value rather than merging into it; unknown keys are rejected.
func (c RunConfig) Override(values map[string]any) (RunConfig, error) {
	out := c
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ZeroFields:  true,
		ErrorUnused: true,
		Result:      &out,
	})
	if err != nil {
		return RunConfig{}, err
	}
	if err := decoder.Decode(values); err != nil {
		return RunConfig{}, invalid("%v", err)
	}
	if err := out.Validate(); err != nil {
		return RunConfig{}, err
	}
	return out, nil
}

// ParseOverrides turns key=value pairs into the nested map Override expects.
// Dotted keys address sections ("problem.target=sine") and values are read as
// YAML scalars or flow lists ("grammar.functions=[add, mul]").
func ParseOverrides(pairs []string) (map[string]any, error) {
	out := make(map[string]any)
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, invalid("override %q must look like key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, invalid("override %s: %v", key, err)
		}
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, exists := node[part]
			if !exists {
				next := make(map[string]any)
				node[part] = next
				node = next
				continue
			}
			next, isMap := child.(map[string]any)
			if !isMap {
				return nil, invalid("override %s conflicts with %s", key, part)
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return out, nil
}

// Apply parses and applies key=value overrides in one step.
func (c RunConfig) Apply(pairs []string) (RunConfig, error) {
	if len(pairs) == 0 {
		return c, nil
	}
	values, err := ParseOverrides(pairs)
	if err != nil {
		return RunConfig{}, err
	}
	out, err := c.Override(values)
	if err != nil {
		return RunConfig{}, fmt.Errorf("apply overrides: %w", err)
	}
	return out, nil
}
