// Package inspect implements the interactive REPL over a run's bundle
// directory.
package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/executor"
)

// Inspector browses the bundles of one run directory.
type Inspector struct {
	dir     string
	bundles []*bundle.Bundle
	corrupt int
	output  io.Writer
	rl      *readline.Instance
}

// New discovers bundles under dir and builds an inspector over them.
func New(dir string) (*Inspector, error) {
	bundles, corrupt, err := bundle.Discover(dir)
	if err != nil {
		return nil, fmt.Errorf("discover bundles: %w", err)
	}
	return &Inspector{
		dir:     dir,
		bundles: bundles,
		corrupt: corrupt,
		output:  os.Stdout,
	}, nil
}

// Run starts the interactive REPL loop.
func (i *Inspector) Run() error {
	commands := []string{"list", "show", "mismatches", "help", "quit"}

	completer := readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("rift[%d bundles]> ", len(i.bundles)),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	i.rl = rl
	defer rl.Close()

	fmt.Fprintf(i.output, "rift inspect — %d bundles in %s", len(i.bundles), i.dir)
	if i.corrupt > 0 {
		fmt.Fprintf(i.output, " (%d corrupt skipped)", i.corrupt)
	}
	fmt.Fprintf(i.output, "\nType 'help' for available commands.\n\n")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}
		if !i.handle(line) {
			return nil
		}
	}
}

// handle dispatches one REPL line. Returns false when the session ends.
func (i *Inspector) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	parts := strings.Fields(line)

	switch parts[0] {
	case "list", "l":
		i.handleList()
	case "show", "s":
		i.withBundle(parts, i.handleShow)
	case "mismatches", "m":
		i.withBundle(parts, i.handleMismatches)
	case "help", "?":
		i.handleHelp()
	case "quit", "q":
		fmt.Fprintf(i.output, "Exiting inspect.\n")
		return false
	default:
		fmt.Fprintf(i.output, "Unknown command: %q. Type 'help' for available commands.\n", parts[0])
	}
	return true
}

// withBundle resolves the key argument and runs fn on the match.
func (i *Inspector) withBundle(parts []string, fn func(*bundle.Bundle)) {
	if len(parts) < 2 {
		fmt.Fprintf(i.output, "Usage: %s <key>\n", parts[0])
		return
	}
	b, err := i.find(parts[1])
	if err != nil {
		fmt.Fprintf(i.output, "Error: %v\n", err)
		return
	}
	fn(b)
}

// find matches a bundle by exact key or unique prefix.
func (i *Inspector) find(key string) (*bundle.Bundle, error) {
	var hit *bundle.Bundle
	for _, b := range i.bundles {
		if b.Key == key {
			return b, nil
		}
		if strings.HasPrefix(b.Key, key) {
			if hit != nil {
				return nil, fmt.Errorf("key %q is ambiguous", key)
			}
			hit = b
		}
	}
	if hit == nil {
		return nil, fmt.Errorf("no bundle with key %q", key)
	}
	return hit, nil
}

func (i *Inspector) handleList() {
	if len(i.bundles) == 0 {
		fmt.Fprintf(i.output, "No bundles.\n")
		return
	}
	for _, b := range i.bundles {
		fmt.Fprintf(i.output, "%s  %-40s  %d mismatches\n",
			b.Key, strings.Join(b.Sequence, " -> "), len(b.Mismatches))
	}
}

func (i *Inspector) handleShow(b *bundle.Bundle) {
	fmt.Fprintf(i.output, "key:      %s\n", b.Key)
	fmt.Fprintf(i.output, "created:  %s\n", b.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(i.output, "spec:     %s\n", b.SpecRef)
	fmt.Fprintf(i.output, "sequence: %s\n", strings.Join(b.Sequence, " -> "))
	for n, st := range b.Steps {
		fmt.Fprintf(i.output, "step %d:   %s %s\n", n, st.Case.Method, st.Case.PathTemplate)
		fmt.Fprintf(i.output, "          a: %s   b: %s\n", stepStatus(st.A), stepStatus(st.B))
	}
	fmt.Fprintf(i.output, "failing:  %s\n", strings.Join(b.FailingPaths(), ", "))
}

func (i *Inspector) handleMismatches(b *bundle.Bundle) {
	if len(b.Mismatches) == 0 {
		fmt.Fprintf(i.output, "No mismatches recorded.\n")
		return
	}
	for _, m := range b.Mismatches {
		fmt.Fprintf(i.output, "%s (%s)\n", m.Path, m.Rule)
		fmt.Fprintf(i.output, "  a: %s\n", fmtValue(m.A))
		fmt.Fprintf(i.output, "  b: %s\n", fmtValue(m.B))
	}
}

func (i *Inspector) handleHelp() {
	fmt.Fprint(i.output, `Commands:
  list               List all bundles (key, sequence, mismatch count)
  show <key>         Show one bundle (prefix of the key is enough)
  mismatches <key>   Show the bundle's mismatches with both sides
  help               This help
  quit               Exit
`)
}

func stepStatus(r *executor.StepResult) string {
	if r == nil {
		return "-"
	}
	if r.Terminal() {
		return "error: " + r.Err
	}
	return fmt.Sprintf("%d", r.Status)
}

func fmtValue(v any) string {
	data, err := json.Marshal(v)
	s := string(data)
	if err != nil {
		s = fmt.Sprintf("%v", v)
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
