package evalbridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Replies larger than this kill the worker rather than the host.
const maxLineBytes = 8 << 20

// Worker is a running evaluator: line-oriented stdin/stdout plus liveness.
// Lines closes at stdout EOF.
type Worker interface {
	Stdin() io.WriteCloser
	Lines() <-chan string
	Done() <-chan struct{}
	Kill() error
}

// Spawner launches a fresh worker. The bridge calls it on first use and
// after every crash.
type Spawner func(ctx context.Context) (Worker, error)

type processWorker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}
}

// SpawnProcess returns a Spawner that launches the worker binary. Worker
// stderr passes straight through for operator eyes.
func SpawnProcess(binary string, args ...string) Spawner {
	return func(ctx context.Context) (Worker, error) {
		cmd := exec.CommandContext(ctx, binary, args...)
		cmd.Env = os.Environ()
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start worker %q: %w", binary, err)
		}

		done := make(chan struct{})
		go func() {
			cmd.Wait()
			close(done)
		}()

		lines := make(chan string, 16)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(stdout)
			scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		return &processWorker{cmd: cmd, stdin: stdin, lines: lines, done: done}, nil
	}
}

func (p *processWorker) Stdin() io.WriteCloser { return p.stdin }
func (p *processWorker) Lines() <-chan string  { return p.lines }
func (p *processWorker) Done() <-chan struct{} { return p.done }

func (p *processWorker) Kill() error {
	p.stdin.Close()
	select {
	case <-p.done:
		return nil // already dead
	default:
	}
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
