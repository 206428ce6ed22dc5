package llm

import "google.golang.org/genai"

// schemaToGenai converts a JSON schema map to the subset Gemini accepts.
// Keywords Gemini rejects (format, $schema, additionalProperties, ...) are
// dropped simply by not being copied.
func schemaToGenai(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{
		Type:        schemaType(schema),
		Description: stringField(schema, "description"),
		Enum:        stringList(schema["enum"]),
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				out.Properties[name] = schemaToGenai(propMap)
			}
		}
		// Gemini rejects required entries naming unknown properties.
		for _, name := range stringList(schema["required"]) {
			if _, ok := out.Properties[name]; ok {
				out.Required = append(out.Required, name)
			}
		}
	}

	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = schemaToGenai(items)
	} else if out.Type == genai.TypeArray {
		out.Items = &genai.Schema{Type: genai.TypeString}
	}

	if variants, ok := schema["anyOf"].([]any); ok {
		for _, v := range variants {
			if m, ok := v.(map[string]any); ok {
				out.AnyOf = append(out.AnyOf, schemaToGenai(m))
			}
		}
	}
	return out
}

func schemaType(schema map[string]any) genai.Type {
	var name string
	switch t := schema["type"].(type) {
	case string:
		name = t
	case []any:
		// ["string", "null"] style unions: first non-null type wins.
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				name = s
				break
			}
		}
	}
	switch name {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	}
	if _, ok := schema["properties"]; ok {
		return genai.TypeObject
	}
	if _, ok := schema["anyOf"]; ok {
		return genai.TypeUnspecified
	}
	return genai.TypeString
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringField(schema map[string]any, key string) string {
	if v, ok := schema[key].(string); ok {
		return v
	}
	return ""
}
