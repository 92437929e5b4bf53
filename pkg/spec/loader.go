package spec

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Raw OpenAPI shapes
// ---------------------------------------------------------------------------

// Raw types mirror the OpenAPI 3 surface rift reads. Decoding is lenient:
// unknown fields and vendor extensions are ignored rather than rejected.

type rawDocument struct {
	OpenAPI    string                  `yaml:"openapi"`
	Info       rawInfo                 `yaml:"info"`
	Paths      map[string]*rawPathItem `yaml:"paths"`
	Components *rawComponents          `yaml:"components"`
}

type rawInfo struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

type rawComponents struct {
	Schemas map[string]*rawSchema `yaml:"schemas"`
}

type rawPathItem struct {
	Parameters []*rawParameter `yaml:"parameters"`
	Get        *rawOperation   `yaml:"get"`
	Put        *rawOperation   `yaml:"put"`
	Post       *rawOperation   `yaml:"post"`
	Delete     *rawOperation   `yaml:"delete"`
	Patch      *rawOperation   `yaml:"patch"`
	Head       *rawOperation   `yaml:"head"`
	Options    *rawOperation   `yaml:"options"`
}

// methodOps returns the declared operations in canonical method order.
func (p *rawPathItem) methodOps() []methodOp {
	all := []methodOp{
		{"GET", p.Get}, {"POST", p.Post}, {"PUT", p.Put}, {"PATCH", p.Patch},
		{"DELETE", p.Delete}, {"HEAD", p.Head}, {"OPTIONS", p.Options},
	}
	var out []methodOp
	for _, mo := range all {
		if mo.op != nil {
			out = append(out, mo)
		}
	}
	return out
}

type methodOp struct {
	method string
	op     *rawOperation
}

type rawOperation struct {
	OperationID string                  `yaml:"operationId"`
	Parameters  []*rawParameter         `yaml:"parameters"`
	RequestBody *rawRequestBody         `yaml:"requestBody"`
	Responses   map[string]*rawResponse `yaml:"responses"`
}

type rawParameter struct {
	Name     string     `yaml:"name"`
	In       string     `yaml:"in"`
	Required bool       `yaml:"required"`
	Schema   *rawSchema `yaml:"schema"`
}

type rawRequestBody struct {
	Required bool                     `yaml:"required"`
	Content  map[string]*rawMediaType `yaml:"content"`
}

type rawMediaType struct {
	Schema *rawSchema `yaml:"schema"`
}

type rawResponse struct {
	Links map[string]*rawLink `yaml:"links"`
}

type rawLink struct {
	OperationID string            `yaml:"operationId"`
	Parameters  map[string]string `yaml:"parameters"`
}

type rawSchema struct {
	Ref        string                `yaml:"$ref"`
	Type       string                `yaml:"type"`
	Format     string                `yaml:"format"`
	Enum       []any                 `yaml:"enum"`
	Pattern    string                `yaml:"pattern"`
	Minimum    *float64              `yaml:"minimum"`
	Maximum    *float64              `yaml:"maximum"`
	MinLength  *int                  `yaml:"minLength"`
	MaxLength  *int                  `yaml:"maxLength"`
	MinItems   *int                  `yaml:"minItems"`
	MaxItems   *int                  `yaml:"maxItems"`
	Items      *rawSchema            `yaml:"items"`
	Properties map[string]*rawSchema `yaml:"properties"`
	Required   []string              `yaml:"required"`
	Nullable   bool                  `yaml:"nullable"`
	Example    any                   `yaml:"example"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadFile reads an OpenAPI 3 document from disk. YAML and JSON both parse
// through the same decoder.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open specification: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads an OpenAPI 3 document from a reader and resolves it into the
// rift model.
func Load(r io.Reader) (*Document, error) {
	var raw rawDocument
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	if !strings.HasPrefix(raw.OpenAPI, "3.") {
		return nil, fmt.Errorf("unsupported specification version %q: OpenAPI 3.x required", raw.OpenAPI)
	}

	res := &resolver{stack: map[string]bool{}}
	if raw.Components != nil {
		res.schemas = raw.Components.Schemas
	}

	doc := &Document{Title: raw.Info.Title, Version: raw.Info.Version}
	seen := map[string]string{} // operation ID -> path

	paths := make([]string, 0, len(raw.Paths))
	for p := range raw.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := raw.Paths[path]
		if item == nil {
			continue
		}
		for _, mo := range item.methodOps() {
			op, err := buildOperation(mo.method, path, item, mo.op, res)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[op.ID]; dup {
				return nil, fmt.Errorf("duplicate operation ID %q (%s and %s)", op.ID, prev, path)
			}
			seen[op.ID] = path
			doc.Operations = append(doc.Operations, op)
		}
	}
	if len(doc.Operations) == 0 {
		return nil, fmt.Errorf("specification declares no operations")
	}
	if err := checkLinks(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func buildOperation(method, path string, item *rawPathItem, raw *rawOperation, res *resolver) (*Operation, error) {
	id := raw.OperationID
	if id == "" {
		id = method + " " + path
	}
	op := &Operation{ID: id, Method: method, Path: path}

	params, err := mergeParams(item.Parameters, raw.Parameters, res)
	if err != nil {
		return nil, fmt.Errorf("operation %s: %w", id, err)
	}
	op.Params = params

	for _, seg := range templateParams(path) {
		if !hasParam(params, seg, InPath) {
			return nil, fmt.Errorf("operation %s: path parameter %q not declared", id, seg)
		}
	}

	if raw.RequestBody != nil && len(raw.RequestBody.Content) > 0 {
		op.BodyRequired = raw.RequestBody.Required
		op.RequestBody = map[string]*Schema{}
		for mt, media := range raw.RequestBody.Content {
			s, err := res.resolve(media.Schema)
			if err != nil {
				return nil, fmt.Errorf("operation %s request body: %w", id, err)
			}
			op.RequestBody[mt] = s
		}
	}

	links, err := collectLinks(id, raw.Responses)
	if err != nil {
		return nil, err
	}
	op.Links = links
	return op, nil
}

// mergeParams combines path-item and operation parameters; an operation
// parameter overrides a path-item parameter with the same name and location.
func mergeParams(shared, own []*rawParameter, res *resolver) ([]Parameter, error) {
	byKey := map[string]int{}
	var out []Parameter
	add := func(rp *rawParameter) error {
		loc := Location(rp.In)
		switch loc {
		case InPath, InQuery, InHeader, InCookie:
		default:
			return fmt.Errorf("parameter %q: unknown location %q", rp.Name, rp.In)
		}
		s, err := res.resolve(rp.Schema)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", rp.Name, err)
		}
		p := Parameter{Name: rp.Name, In: loc, Required: rp.Required || loc == InPath, Schema: s}
		key := rp.In + "\x00" + rp.Name
		if i, ok := byKey[key]; ok {
			out[i] = p
			return nil
		}
		byKey[key] = len(out)
		out = append(out, p)
		return nil
	}
	for _, rp := range shared {
		if err := add(rp); err != nil {
			return nil, err
		}
	}
	for _, rp := range own {
		if err := add(rp); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// collectLinks flattens response links in deterministic order (response code,
// then link name) and validates their parameter sources.
func collectLinks(opID string, responses map[string]*rawResponse) ([]Link, error) {
	codes := make([]string, 0, len(responses))
	for code := range responses {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []Link
	for _, code := range codes {
		resp := responses[code]
		if resp == nil || len(resp.Links) == 0 {
			continue
		}
		names := make([]string, 0, len(resp.Links))
		for name := range resp.Links {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rl := resp.Links[name]
			if rl.OperationID == "" {
				return nil, fmt.Errorf("operation %s link %q: operationId required", opID, name)
			}
			for param, source := range rl.Parameters {
				if !strings.HasPrefix(source, "$response.body#/") && !strings.HasPrefix(source, "$response.header.") {
					return nil, fmt.Errorf("operation %s link %q: unsupported parameter source %q for %q", opID, name, source, param)
				}
			}
			out = append(out, Link{Name: name, Operation: rl.OperationID, Parameters: rl.Parameters})
		}
	}
	return out, nil
}

// checkLinks verifies every link targets a declared operation.
func checkLinks(doc *Document) error {
	for _, op := range doc.Operations {
		for _, l := range op.Links {
			if doc.Operation(l.Operation) == nil {
				return fmt.Errorf("operation %s link %q: unknown operation %q", op.ID, l.Name, l.Operation)
			}
		}
	}
	return nil
}

// templateParams extracts {name} segments from a path template.
func templateParams(path string) []string {
	var out []string
	rest := path
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			return out
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return out
		}
		out = append(out, rest[i+1:i+j])
		rest = rest[i+j+1:]
	}
}

func hasParam(params []Parameter, name string, in Location) bool {
	for _, p := range params {
		if p.Name == name && p.In == in {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// $ref resolution
// ---------------------------------------------------------------------------

type resolver struct {
	schemas map[string]*rawSchema
	stack   map[string]bool
}

// resolve converts a raw schema into the rift model, following local
// component refs. A ref cycle is a load error.
func (r *resolver) resolve(raw *rawSchema) (*Schema, error) {
	if raw == nil {
		return nil, nil
	}
	if raw.Ref != "" {
		name, ok := strings.CutPrefix(raw.Ref, "#/components/schemas/")
		if !ok {
			return nil, fmt.Errorf("unsupported $ref %q: only #/components/schemas refs resolve", raw.Ref)
		}
		target, found := r.schemas[name]
		if !found {
			return nil, fmt.Errorf("unresolved $ref %q", raw.Ref)
		}
		if r.stack[name] {
			return nil, fmt.Errorf("$ref cycle through %q", raw.Ref)
		}
		r.stack[name] = true
		defer delete(r.stack, name)
		return r.resolve(target)
	}

	s := &Schema{
		Type:      raw.Type,
		Format:    raw.Format,
		Enum:      raw.Enum,
		Pattern:   raw.Pattern,
		Minimum:   raw.Minimum,
		Maximum:   raw.Maximum,
		MinLength: raw.MinLength,
		MaxLength: raw.MaxLength,
		MinItems:  raw.MinItems,
		MaxItems:  raw.MaxItems,
		Required:  raw.Required,
		Nullable:  raw.Nullable,
		Example:   raw.Example,
	}
	if raw.Items != nil {
		items, err := r.resolve(raw.Items)
		if err != nil {
			return nil, err
		}
		s.Items = items
	}
	if len(raw.Properties) > 0 {
		s.Properties = map[string]*Schema{}
		for name, rp := range raw.Properties {
			p, err := r.resolve(rp)
			if err != nil {
				return nil, err
			}
			s.Properties[name] = p
		}
	}
	return s, nil
}
