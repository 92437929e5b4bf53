package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/riftlabs/rift/pkg/compare"
	"github.com/riftlabs/rift/pkg/executor"
)

// Redacted replaces sensitive header values in stored bundles.
const Redacted = "[REDACTED]"

// baseSensitive are always redacted; a Store can add more.
var baseSensitive = []string{"authorization", "cookie", "set-cookie", "x-api-key"}

// Store writes bundles under a run output root:
//
//	<root>/mismatches/<key>/descriptor.json
//	<root>/mismatches/<key>/mismatches/NNN.json
type Store struct {
	Root      string
	sensitive map[string]bool
}

// NewStore builds a store. extra names additional sensitive headers to
// redact on persist, matched case-insensitively.
func NewStore(root string, extra ...string) *Store {
	s := &Store{Root: root, sensitive: map[string]bool{}}
	for _, name := range baseSensitive {
		s.sensitive[name] = true
	}
	for _, name := range extra {
		s.sensitive[strings.ToLower(name)] = true
	}
	return s
}

// Write persists the bundle and returns its directory. The stored copy has
// sensitive header values redacted; the in-memory bundle is untouched.
// Writing the same key twice overwrites: one reproduction per divergence.
func (s *Store) Write(b *Bundle) (string, error) {
	clone, err := cloneBundle(b)
	if err != nil {
		return "", err
	}
	s.redact(clone)

	dir := filepath.Join(s.Root, "mismatches", clone.Key)
	mmDir := filepath.Join(dir, "mismatches")
	if err := os.MkdirAll(mmDir, 0o755); err != nil {
		return "", fmt.Errorf("create bundle dir: %w", err)
	}

	mismatches := clone.Mismatches
	clone.Mismatches = nil
	if err := writeJSON(filepath.Join(dir, "descriptor.json"), clone); err != nil {
		return "", err
	}
	for i, m := range mismatches {
		if err := writeJSON(filepath.Join(mmDir, fmt.Sprintf("%03d.json", i)), m); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func (s *Store) redact(b *Bundle) {
	for i := range b.Steps {
		rec := &b.Steps[i]
		if rec.Case != nil {
			for k := range rec.Case.Header {
				if s.sensitive[strings.ToLower(k)] {
					rec.Case.Header[k] = Redacted
				}
			}
			if s.sensitive["cookie"] {
				for k := range rec.Case.Cookie {
					rec.Case.Cookie[k] = Redacted
				}
			}
		}
		s.redactResult(rec.A)
		s.redactResult(rec.B)
	}
}

func (s *Store) redactResult(r *executor.StepResult) {
	if r == nil {
		return
	}
	for name, vals := range r.Header {
		if !s.sensitive[strings.ToLower(name)] {
			continue
		}
		for i := range vals {
			vals[i] = Redacted
		}
	}
}

func cloneBundle(b *Bundle) (*Bundle, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	var clone Bundle
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("clone bundle: %w", err)
	}
	return &clone, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load reads one bundle directory: descriptor.json plus any mismatch files.
func Load(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, "descriptor.json"))
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "mismatches"))
	if err != nil {
		return &b, nil // descriptor alone is a valid, mismatch-free bundle
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(ent.Name(), ".json") {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, "mismatches", name))
		if err != nil {
			return nil, fmt.Errorf("read mismatch %s: %w", name, err)
		}
		var m compare.Mismatch
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse mismatch %s: %w", name, err)
		}
		b.Mismatches = append(b.Mismatches, m)
	}
	return &b, nil
}

// Discover finds bundles under in. It accepts a single bundle directory, a
// run root (bundles under in/mismatches), or a directory whose children are
// bundles. Directories without a descriptor are skipped and tallied, never
// fatal.
func Discover(in string) ([]*Bundle, int, error) {
	if _, err := os.Stat(filepath.Join(in, "descriptor.json")); err == nil {
		b, err := Load(in)
		if err != nil {
			return nil, 1, nil
		}
		return []*Bundle{b}, 0, nil
	}

	root := filepath.Join(in, "mismatches")
	entries, err := os.ReadDir(root)
	if err != nil {
		root = in
		entries, err = os.ReadDir(root)
		if err != nil {
			return nil, 0, fmt.Errorf("read bundle root: %w", err)
		}
	}

	var bundles []*Bundle
	corrupt := 0
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		dir := filepath.Join(root, ent.Name())
		if _, err := os.Stat(filepath.Join(dir, "descriptor.json")); err != nil {
			corrupt++
			continue
		}
		b, err := Load(dir)
		if err != nil {
			corrupt++
			continue
		}
		bundles = append(bundles, b)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].Key < bundles[j].Key })
	return bundles, corrupt, nil
}
