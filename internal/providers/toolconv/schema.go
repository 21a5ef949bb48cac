// Package toolconv rewrites tool JSON schemas into the shapes each provider
// dialect expects.
package toolconv

import "encoding/json"

// StripSchemaField removes every "$schema" field from a JSON schema,
// recursively. Providers reject drafts-metadata they don't understand.
func StripSchemaField(schema json.RawMessage) json.RawMessage {
	var value any
	if err := json.Unmarshal(schema, &value); err != nil {
		return schema
	}
	stripped := stripSchemaKey(value)
	out, err := json.Marshal(stripped)
	if err != nil {
		return schema
	}
	return out
}

func stripSchemaKey(value any) any {
	switch v := value.(type) {
	case map[string]any:
		delete(v, "$schema")
		for key, child := range v {
			v[key] = stripSchemaKey(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = stripSchemaKey(child)
		}
		return v
	}
	return value
}

// EnsureObjectProperties adds an empty "properties" map to an object schema
// that lacks one. The OpenAI function-calling endpoint rejects object
// schemas without it.
func EnsureObjectProperties(schema json.RawMessage) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal(schema, &obj); err != nil {
		return schema
	}
	if t, _ := obj["type"].(string); t == "object" {
		if _, ok := obj["properties"]; !ok {
			obj["properties"] = map[string]any{}
		}
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return schema
	}
	return out
}

// SanitizeForOpenAI strips schema metadata and guarantees object properties.
func SanitizeForOpenAI(schema json.RawMessage) json.RawMessage {
	return EnsureObjectProperties(StripSchemaField(schema))
}
