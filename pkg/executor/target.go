// Package executor issues generated cases against the two targets and
// normalizes whatever comes back. Transport failures and timeouts become
// terminal StepResults, never errors: a dead target is data.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/riftlabs/rift/pkg/generate"
)

// Response bodies beyond this are truncated before comparison.
const maxBodyBytes = 32 << 20

// Target is one implementation under test.
type Target struct {
	Name    string
	BaseURL string
	Client  *http.Client
}

// NewTarget builds a target with a client-level timeout backstop. Per-step
// deadlines come from the request context.
func NewTarget(name, baseURL string, timeout time.Duration) *Target {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Target{
		Name:    name,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Probe checks the target answers HTTP at all. Any status code counts; only
// a transport failure is an error.
func (t *Target) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("probe %s: %w", t.Name, err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("target %s unreachable at %s: %w", t.Name, t.BaseURL, err)
	}
	resp.Body.Close()
	return nil
}

// Execute issues one case against the target within the given budget.
func (t *Target) Execute(ctx context.Context, c *generate.Case, timeout time.Duration) *StepResult {
	res := &StepResult{Target: t.Name}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	u, err := c.URL(t.BaseURL)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	var body io.Reader
	if c.Body != nil {
		if isJSONMedia(c.MediaType) {
			data, err := json.Marshal(c.Body)
			if err != nil {
				res.Err = fmt.Sprintf("encode body: %v", err)
				return res
			}
			body = bytes.NewReader(data)
		} else {
			body = strings.NewReader(fmt.Sprint(c.Body))
		}
	}

	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(cctx, c.Method, u, body)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	for k, v := range c.Header {
		req.Header.Set(k, v)
	}
	for k, v := range c.Cookie {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	if c.MediaType != "" {
		req.Header.Set("Content-Type", c.MediaType)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		res.Err = fmt.Sprintf("read body: %v", err)
		return res
	}
	res.Status = resp.StatusCode
	res.Header = resp.Header
	res.RawBody = raw

	if isJSONMedia(resp.Header.Get("Content-Type")) && len(raw) > 0 {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			res.BodyErr = fmt.Sprintf("declared JSON does not parse: %v", err)
		} else {
			res.Body = v
			res.Parsed = true
		}
	}
	return res
}

func isJSONMedia(mediaType string) bool {
	return strings.Contains(mediaType, "json")
}
