package tools

import (
	"fmt"
	"reflect"
	"strings"
)

// ToolSchema is the JSON schema for a tool's arguments or output.
type ToolSchema struct {
	Type                 string         `json:"type,omitempty"`
	Properties           map[string]any `json:"properties,omitempty"`
	Required             []string       `json:"required,omitempty"`
	Items                map[string]any `json:"items,omitempty"`
	AdditionalProperties *bool          `json:"additionalProperties,omitempty"`
}

// AsMap renders the schema as a plain map for provider SDKs that take
// free-form schema objects.
func (s ToolSchema) AsMap() map[string]any {
	m := map[string]any{}
	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Properties != nil {
		m["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	if s.Items != nil {
		m["items"] = s.Items
	}
	if s.AdditionalProperties != nil {
		m["additionalProperties"] = *s.AdditionalProperties
	}
	return m
}

// MustSchemaFor derives a ToolSchema from the Go type T. Field names come
// from json tags, descriptions from jsonschema tags, and a field is
// required unless its json tag carries omitempty. It panics on types that
// have no JSON schema representation.
func MustSchemaFor[T any]() ToolSchema {
	seen := map[reflect.Type]bool{}
	schemaMap := schemaFor(reflect.TypeFor[T](), seen)

	schema := ToolSchema{}
	if v, ok := schemaMap["type"].(string); ok {
		schema.Type = v
	}
	if v, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = v
	}
	if v, ok := schemaMap["required"].([]string); ok {
		schema.Required = v
	}
	if v, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = v
	}
	if v, ok := schemaMap["additionalProperties"].(bool); ok {
		schema.AdditionalProperties = &v
	}
	return schema
}

func schemaFor(valueType reflect.Type, seen map[reflect.Type]bool) map[string]any {
	if seen[valueType] {
		return map[string]any{"$ref": "#"}
	}

	switch valueType.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{
			"type":  "array",
			"items": schemaFor(valueType.Elem(), seen),
		}
	case reflect.Map:
		return map[string]any{"type": "object"}
	case reflect.Pointer:
		return schemaFor(valueType.Elem(), seen)
	case reflect.Struct:
		seen[valueType] = true

		properties := map[string]any{}
		var required []string
		for i := range valueType.NumField() {
			field := valueType.Field(i)
			if !field.IsExported() {
				continue
			}

			name := field.Name
			optional := false
			if jsonTag, ok := field.Tag.Lookup("json"); ok {
				parts := strings.Split(jsonTag, ",")
				if parts[0] == "-" {
					continue
				}
				if parts[0] != "" {
					name = parts[0]
				}
				for _, opt := range parts[1:] {
					if opt == "omitempty" {
						optional = true
					}
				}
			}

			fieldSchema := schemaFor(field.Type, seen)
			if desc, ok := field.Tag.Lookup("jsonschema"); ok {
				fieldSchema["description"] = desc
			}
			properties[name] = fieldSchema
			if !optional {
				required = append(required, name)
			}
		}

		result := map[string]any{
			"type":                 "object",
			"properties":           properties,
			"additionalProperties": false,
		}
		if len(required) > 0 {
			result["required"] = required
		}
		return result
	default:
		panic(fmt.Sprintf("tools: cannot derive a JSON schema for %s", valueType))
	}
}
