// Package spec models the OpenAPI 3 subset rift explores: operations with
// typed parameters, request body schemas, and response links.
package spec

import "sort"

// ---------------------------------------------------------------------------
// Document
// ---------------------------------------------------------------------------

// Document is a loaded API specification. It is immutable after load and safe
// to share across goroutines.
type Document struct {
	Title      string
	Version    string
	Operations []*Operation
}

// Operation returns the operation with the given ID, or nil.
func (d *Document) Operation(id string) *Operation {
	for _, op := range d.Operations {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operation
// ---------------------------------------------------------------------------

// Operation is a single method+path entry.
type Operation struct {
	ID           string
	Method       string // upper case: GET, POST, ...
	Path         string // template form: /items/{item_id}
	Params       []Parameter
	RequestBody  map[string]*Schema // media type -> schema
	BodyRequired bool
	Links        []Link
}

// BodyMediaType picks the media type used for generated request bodies:
// application/json when declared, otherwise the first in sorted order.
func (o *Operation) BodyMediaType() string {
	if len(o.RequestBody) == 0 {
		return ""
	}
	if _, ok := o.RequestBody["application/json"]; ok {
		return "application/json"
	}
	types := make([]string, 0, len(o.RequestBody))
	for mt := range o.RequestBody {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types[0]
}

// Location is where a parameter travels.
type Location string

const (
	InPath   Location = "path"
	InQuery  Location = "query"
	InHeader Location = "header"
	InCookie Location = "cookie"
)

// Parameter declares a single operation parameter.
type Parameter struct {
	Name     string
	In       Location
	Required bool
	Schema   *Schema
}

// Link declares how a response to this operation feeds a parameter of a
// follow-up operation. Parameter sources are runtime expressions such as
// $response.body#/id or $response.header.location.
type Link struct {
	Name       string
	Operation  string            // target operation ID
	Parameters map[string]string // target parameter name -> source expression
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

// Schema is the constrained schema subset honored by the generator. Pointer
// bound fields distinguish "unset" from zero.
type Schema struct {
	Type       string
	Format     string
	Enum       []any
	Pattern    string
	Minimum    *float64
	Maximum    *float64
	MinLength  *int
	MaxLength  *int
	MinItems   *int
	MaxItems   *int
	Items      *Schema
	Properties map[string]*Schema
	Required   []string
	Nullable   bool
	Example    any
}

// PropertyNames returns property names in sorted order. Map iteration order
// would otherwise leak into generated cases.
func (s *Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRequired reports whether a property name appears in Required.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// JSONSchema rebuilds the schema as a plain JSON Schema document, suitable
// for compilation with a draft 2020-12 validator.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if s.Type != "" {
		if s.Nullable {
			out["type"] = []any{s.Type, "null"}
		} else {
			out["type"] = s.Type
		}
	}
	if s.Format != "" {
		out["format"] = s.Format
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Pattern != "" {
		out["pattern"] = s.Pattern
	}
	if s.Minimum != nil {
		out["minimum"] = *s.Minimum
	}
	if s.Maximum != nil {
		out["maximum"] = *s.Maximum
	}
	if s.MinLength != nil {
		out["minLength"] = *s.MinLength
	}
	if s.MaxLength != nil {
		out["maxLength"] = *s.MaxLength
	}
	if s.MinItems != nil {
		out["minItems"] = *s.MinItems
	}
	if s.MaxItems != nil {
		out["maxItems"] = *s.MaxItems
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if len(s.Properties) > 0 {
		props := map[string]any{}
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		req := make([]any, len(s.Required))
		for i, r := range s.Required {
			req[i] = r
		}
		out["required"] = req
	}
	return out
}
