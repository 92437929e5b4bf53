package generate

import (
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/riftlabs/rift/pkg/spec"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const maxSchemaDepth = 32

// GenerationError reports an operation whose constraints could not be
// satisfied, or whose synthesized body failed its own schema check.
type GenerationError struct {
	Operation string
	Detail    string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s: %s", e.Operation, e.Detail)
}

// Generator synthesizes request cases. Not safe for concurrent use; the run
// engine drains case sequences on a single goroutine before dispatch.
type Generator struct {
	rng    *rand.Rand
	checks map[string]*sjsonschema.Schema
}

// New returns a seeded generator. Seed zero derives one from the clock.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		rng:    rand.New(rand.NewSource(seed)),
		checks: map[string]*sjsonschema.Schema{},
	}
}

// Cases returns a lazy, finite sequence of count cases for one operation.
// Ranging over it again restarts the sequence with fresh values; breaking
// out early leaves the rest ungenerated.
func (g *Generator) Cases(op *spec.Operation, count int, mode Mode) iter.Seq2[*Case, error] {
	return func(yield func(*Case, error) bool) {
		for i := 0; i < count; i++ {
			c, err := g.Case(op, mode)
			if c != nil {
				c.Seq = i
			}
			if !yield(c, err) {
				return
			}
		}
	}
}

// Case synthesizes one case with every parameter filled.
func (g *Generator) Case(op *spec.Operation, mode Mode) (*Case, error) {
	return g.ChainCase(op, nil, mode)
}

// ChainCase synthesizes a case that leaves the fed parameters pending.
// feeds maps parameter names to the link source expressions that will fill
// them after an earlier step responds.
func (g *Generator) ChainCase(op *spec.Operation, feeds map[string]string, mode Mode) (*Case, error) {
	c := &Case{
		Operation:    op.ID,
		Method:       op.Method,
		PathTemplate: op.Path,
		Mode:         mode,
	}
	for _, p := range op.Params {
		if source, fed := feeds[p.Name]; fed {
			c.Pending = append(c.Pending, PendingParam{Name: p.Name, In: p.In, Source: source})
			continue
		}
		if !p.Required && !g.coin(0.5) {
			continue
		}
		val, err := g.paramValue(op, p)
		if err != nil {
			return nil, err
		}
		switch p.In {
		case spec.InPath:
			if c.PathParams == nil {
				c.PathParams = map[string]string{}
			}
			c.PathParams[p.Name] = val
		case spec.InQuery:
			if c.Query == nil {
				c.Query = map[string]string{}
			}
			c.Query[p.Name] = val
		case spec.InHeader:
			if c.Header == nil {
				c.Header = map[string]string{}
			}
			c.Header[p.Name] = SanitizeHeaderValue(val)
		case spec.InCookie:
			if c.Cookie == nil {
				c.Cookie = map[string]string{}
			}
			c.Cookie[p.Name] = SanitizeHeaderValue(val)
		}
	}
	if len(op.RequestBody) > 0 && (op.BodyRequired || g.coin(0.7)) {
		mt := op.BodyMediaType()
		body, err := g.body(op, mt, op.RequestBody[mt], mode)
		if err != nil {
			return nil, err
		}
		c.MediaType = mt
		c.Body = body
	}
	if mode == Exploratory {
		g.mutate(c, op)
	}
	return c, nil
}

func (g *Generator) paramValue(op *spec.Operation, p spec.Parameter) (string, error) {
	v, err := g.value(p.Schema, 0)
	if err != nil {
		return "", &GenerationError{Operation: op.ID, Detail: fmt.Sprintf("parameter %q: %v", p.Name, err)}
	}
	return stringify(v), nil
}

// body synthesizes a request body. Positive JSON bodies are validated
// against the operation schema; a failing body is regenerated a few times
// before the operation is reported unsatisfiable.
func (g *Generator) body(op *spec.Operation, mediaType string, schema *spec.Schema, mode Mode) (any, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := g.value(schema, 0)
		if err != nil {
			return nil, &GenerationError{Operation: op.ID, Detail: fmt.Sprintf("request body: %v", err)}
		}
		if mode != Positive || !isJSON(mediaType) {
			return v, nil
		}
		if err := g.check(op, schema, v); err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	return nil, &GenerationError{Operation: op.ID, Detail: fmt.Sprintf("body failed schema check after %d attempts: %v", attempts, lastErr)}
}

// check round-trips the body through encoding/json so the validator sees
// canonical JSON values, then validates it against the compiled schema.
func (g *Generator) check(op *spec.Operation, schema *spec.Schema, body any) error {
	sch, err := g.compiled(op, schema)
	if err != nil {
		return err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return sch.Validate(doc)
}

func (g *Generator) compiled(op *spec.Operation, schema *spec.Schema) (*sjsonschema.Schema, error) {
	if sch, ok := g.checks[op.ID]; ok {
		return sch, nil
	}
	raw, err := json.Marshal(schema.JSONSchema())
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := sjsonschema.NewCompiler()
	name := "rift-body.json"
	if err := c.AddResource(name, doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, err
	}
	g.checks[op.ID] = sch
	return sch, nil
}

// ---------------------------------------------------------------------------
// Value synthesis
// ---------------------------------------------------------------------------

func (g *Generator) value(s *spec.Schema, depth int) (any, error) {
	if s == nil {
		return g.word(), nil
	}
	if depth > maxSchemaDepth {
		return nil, fmt.Errorf("schema nesting exceeds %d levels", maxSchemaDepth)
	}
	if len(s.Enum) > 0 {
		return s.Enum[g.rng.Intn(len(s.Enum))], nil
	}
	if s.Nullable && g.coin(0.1) {
		return nil, nil
	}
	if s.Example != nil && g.coin(0.25) {
		return s.Example, nil
	}
	switch s.Type {
	case "string", "":
		return g.stringValue(s)
	case "integer":
		return g.intValue(s), nil
	case "number":
		return g.numberValue(s), nil
	case "boolean":
		return g.rng.Intn(2) == 0, nil
	case "array":
		return g.arrayValue(s, depth)
	case "object":
		return g.objectValue(s, depth)
	default:
		return nil, fmt.Errorf("unsupported schema type %q", s.Type)
	}
}

func (g *Generator) stringValue(s *spec.Schema) (any, error) {
	if s.Pattern != "" {
		out, err := g.fromPattern(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s.Pattern, err)
		}
		return out, nil
	}
	switch s.Format {
	case "uuid":
		return g.uuid(), nil
	case "date":
		return g.date().Format("2006-01-02"), nil
	case "date-time":
		return g.date().Format(time.RFC3339), nil
	case "email":
		return g.word() + "@example.com", nil
	case "uri":
		return "https://example.com/" + g.word(), nil
	case "ipv4":
		return fmt.Sprintf("%d.%d.%d.%d", 1+g.rng.Intn(223), g.rng.Intn(256), g.rng.Intn(256), 1+g.rng.Intn(254)), nil
	}
	lo := 1
	if s.MinLength != nil {
		lo = *s.MinLength
	}
	hi := lo + 11
	if s.MaxLength != nil && *s.MaxLength < hi {
		hi = *s.MaxLength
	}
	if hi < lo {
		hi = lo
	}
	return g.alpha(lo + g.rng.Intn(hi-lo+1)), nil
}

func (g *Generator) intValue(s *spec.Schema) any {
	lo, hi := int64(0), int64(1000)
	if s.Minimum != nil {
		lo = int64(math.Ceil(*s.Minimum))
	}
	if s.Maximum != nil {
		hi = int64(math.Floor(*s.Maximum))
	}
	if s.Minimum == nil && s.Maximum != nil && hi < lo {
		lo = hi - 1000
	}
	if s.Maximum == nil && s.Minimum != nil && hi < lo {
		hi = lo + 1000
	}
	if hi < lo {
		// contradictory bounds; the schema check reports it
		hi = lo
	}
	return lo + g.rng.Int63n(hi-lo+1)
}

func (g *Generator) numberValue(s *spec.Schema) any {
	lo, hi := 0.0, 1000.0
	if s.Minimum != nil {
		lo = *s.Minimum
	}
	if s.Maximum != nil {
		hi = *s.Maximum
	}
	if s.Minimum == nil && s.Maximum != nil && hi < lo {
		lo = hi - 1000
	}
	if s.Maximum == nil && s.Minimum != nil && hi < lo {
		hi = lo + 1000
	}
	if hi < lo {
		hi = lo
	}
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *Generator) arrayValue(s *spec.Schema, depth int) (any, error) {
	lo, hi := 1, 3
	if s.MinItems != nil {
		lo = *s.MinItems
	}
	if s.MaxItems != nil {
		hi = *s.MaxItems
	}
	if hi < lo {
		hi = lo
	}
	n := lo + g.rng.Intn(hi-lo+1)
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := g.value(s.Items, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (g *Generator) objectValue(s *spec.Schema, depth int) (any, error) {
	out := map[string]any{}
	for _, name := range s.PropertyNames() {
		if !s.IsRequired(name) && !g.coin(0.6) {
			continue
		}
		v, err := g.value(s.Properties[name], depth+1)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// mutate applies constraint violations to an otherwise positive case:
// dropped required parameters, wrong-typed fields, out-of-range numbers.
func (g *Generator) mutate(c *Case, op *spec.Operation) {
	applied := false
	if g.coin(0.5) {
		for _, p := range op.Params {
			if p.Required && p.In == spec.InQuery && c.Query[p.Name] != "" {
				delete(c.Query, p.Name)
				applied = true
				break
			}
		}
	}
	if body, ok := c.Body.(map[string]any); ok && len(body) > 0 {
		keys := sortedKeys(body)
		k := keys[g.rng.Intn(len(keys))]
		switch g.rng.Intn(3) {
		case 0:
			delete(body, k)
		case 1:
			body[k] = []any{"unexpected"}
		case 2:
			body[k] = -1e12
		}
		applied = true
	}
	if !applied && len(c.Query) > 0 {
		k := sortedKeys(c.Query)[0]
		c.Query[k] = strings.Repeat("z", 4096)
	}
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

const letters = "abcdefghijklmnopqrstuvwxyz"

func (g *Generator) coin(p float64) bool { return g.rng.Float64() < p }

func (g *Generator) alpha(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[g.rng.Intn(len(letters))]
	}
	return string(b)
}

func (g *Generator) word() string { return g.alpha(5 + g.rng.Intn(5)) }

func (g *Generator) uuid() string {
	b := make([]byte, 16)
	g.rng.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

func (g *Generator) date() time.Time {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(g.rng.Int63n(int64(8 * 365 * 24 * time.Hour))))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func isJSON(mediaType string) bool {
	return strings.Contains(mediaType, "json")
}
