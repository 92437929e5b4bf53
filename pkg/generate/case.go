// Package generate synthesizes schema-valid request cases from operation
// definitions. Positive cases satisfy every declared constraint and are
// self-checked against the operation schema before use; exploratory cases
// deliberately violate constraints to probe error handling.
package generate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/riftlabs/rift/pkg/spec"
)

// Mode selects the generation strategy.
type Mode string

const (
	Positive    Mode = "positive"
	Exploratory Mode = "exploratory"
)

// PendingParam is a parameter a chain link supplies later. Source is the
// link's runtime expression, kept for reporting.
type PendingParam struct {
	Name   string        `json:"name"`
	In     spec.Location `json:"in"`
	Source string        `json:"source"`
}

// Case is one concrete request against an operation. It is fully
// serializable so bundles can replay it later.
type Case struct {
	Operation    string            `json:"operation"`
	Method       string            `json:"method"`
	PathTemplate string            `json:"path_template"`
	PathParams   map[string]string `json:"path_params,omitempty"`
	Query        map[string]string `json:"query,omitempty"`
	Header       map[string]string `json:"header,omitempty"`
	Cookie       map[string]string `json:"cookie,omitempty"`
	MediaType    string            `json:"media_type,omitempty"`
	Body         any               `json:"body,omitempty"`
	Mode         Mode              `json:"mode"`
	Seq          int               `json:"seq"`
	Pending      []PendingParam    `json:"pending,omitempty"`
}

// Resolved reports whether no parameters remain pending.
func (c *Case) Resolved() bool {
	return len(c.Pending) == 0
}

// Clone returns a copy whose parameter maps and pending list are safe to
// mutate. The body is shared: nothing downstream rewrites bodies.
func (c *Case) Clone() *Case {
	out := *c
	out.PathParams = cloneMap(c.PathParams)
	out.Query = cloneMap(c.Query)
	out.Header = cloneMap(c.Header)
	out.Cookie = cloneMap(c.Cookie)
	out.Pending = append([]PendingParam(nil), c.Pending...)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PendingPathParams reports whether a path parameter is still pending. Such
// a case cannot be issued: no URL can be formed.
func (c *Case) PendingPathParams() bool {
	for _, p := range c.Pending {
		if p.In == spec.InPath {
			return true
		}
	}
	return false
}

// Resolve fills a pending parameter with a value extracted from an earlier
// response. Header and cookie values are sanitized on the way in so the
// transport invariant holds for linked values too.
func (c *Case) Resolve(name, value string) bool {
	for i, p := range c.Pending {
		if p.Name != name {
			continue
		}
		switch p.In {
		case spec.InPath:
			if c.PathParams == nil {
				c.PathParams = map[string]string{}
			}
			c.PathParams[name] = value
		case spec.InQuery:
			if c.Query == nil {
				c.Query = map[string]string{}
			}
			c.Query[name] = value
		case spec.InHeader:
			if c.Header == nil {
				c.Header = map[string]string{}
			}
			c.Header[name] = SanitizeHeaderValue(value)
		case spec.InCookie:
			if c.Cookie == nil {
				c.Cookie = map[string]string{}
			}
			c.Cookie[name] = SanitizeHeaderValue(value)
		}
		c.Pending = append(c.Pending[:i], c.Pending[i+1:]...)
		return true
	}
	return false
}

// DropPending removes pending non-path parameters from the case. Called when
// a link source could not be extracted and the chain continues degraded.
func (c *Case) DropPending() {
	kept := c.Pending[:0]
	for _, p := range c.Pending {
		if p.In == spec.InPath {
			kept = append(kept, p)
		}
	}
	c.Pending = kept
}

// URL renders the concrete request URL against a base. All path parameters
// must be resolved.
func (c *Case) URL(base string) (string, error) {
	path := c.PathTemplate
	for _, seg := range templateSegments(path) {
		val, ok := c.PathParams[seg]
		if !ok {
			return "", fmt.Errorf("case %s: path parameter %q unresolved", c.Operation, seg)
		}
		path = strings.ReplaceAll(path, "{"+seg+"}", url.PathEscape(val))
	}
	full := strings.TrimRight(base, "/") + path
	if len(c.Query) > 0 {
		q := url.Values{}
		for _, k := range sortedKeys(c.Query) {
			q.Set(k, c.Query[k])
		}
		full += "?" + q.Encode()
	}
	return full, nil
}

func templateSegments(path string) []string {
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

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SanitizeHeaderValue replaces every character outside 0x20..0x7e with '_'.
// Applied character by character at generation time so no case ever carries
// a value the transport would reject or that would smuggle a header.
func SanitizeHeaderValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '_'
		}
		return r
	}, s)
}
