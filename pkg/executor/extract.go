package executor

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract pulls a link source value out of a response. Two source forms are
// supported: $response.body#/json/pointer and $response.header.<name>
// (first value only). A missing field is ok=false, never an error; the
// chain continues degraded.
func Extract(res *StepResult, source string) (string, bool) {
	if res == nil || res.Terminal() {
		return "", false
	}
	switch {
	case strings.HasPrefix(source, "$response.body#/"):
		if len(res.RawBody) == 0 {
			return "", false
		}
		pointer := strings.TrimPrefix(source, "$response.body#")
		v := gjson.GetBytes(res.RawBody, pointerToGJSON(pointer))
		if !v.Exists() {
			return "", false
		}
		return v.String(), true
	case strings.HasPrefix(source, "$response.header."):
		name := strings.TrimPrefix(source, "$response.header.")
		vals := http.Header(res.Header).Values(name)
		if len(vals) == 0 {
			return "", false
		}
		return vals[0], true
	}
	return "", false
}

// pointerToGJSON converts a JSON pointer (/items/0/name) into a gjson path
// (items.0.name), unescaping ~1 and ~0 and protecting literal dots.
func pointerToGJSON(pointer string) string {
	segs := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, s := range segs {
		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		s = strings.ReplaceAll(s, ".", `\.`)
		segs[i] = s
	}
	return strings.Join(segs, ".")
}
