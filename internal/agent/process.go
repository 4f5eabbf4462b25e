package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/logging"
)

// stderrTailLines is how much stderr an ExitError keeps.
const stderrTailLines = 20

// Invocation describes one agent process run.
type Invocation struct {
	// Role labels the run in logs (chooser, worker, reviewer, timeout).
	Role     string
	Dir      string
	Prompt   string
	TaskFile string
	// OnActivity is called for every line the process writes.
	OnActivity func()
	// Output receives transformed output lines. Nil discards them.
	Output io.Writer
	// Env is added to the process environment after the agent's own.
	Env []string
}

// ExitError reports an agent process that exited non-zero.
type ExitError struct {
	Agent  string
	Role   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s agent (%s) exited with code %d", e.Agent, e.Role, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExitCode returns the process exit code.
func (e *ExitError) ExitCode() int { return e.Code }

// Runner spawns agent processes.
type Runner struct {
	agent     CliAgent
	log       *logging.Logger
	waitDelay time.Duration
}

// NewRunner creates a Runner for agent.
func NewRunner(agent CliAgent, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{agent: agent, log: log, waitDelay: 5 * time.Second}
}

// Agent returns the agent this runner spawns.
func (r *Runner) Agent() CliAgent {
	return r.agent
}

// Run spawns the agent headlessly and blocks until it exits. Cancelling ctx
// kills the process; the returned error is then the context's cause.
func (r *Runner) Run(ctx context.Context, inv Invocation) error {
	c := r.agent.Command(inv.Prompt, inv.TaskFile)
	return r.run(ctx, c, inv)
}

// RunPlan starts the agent's interactive planning session attached to the
// terminal.
func (r *Runner) RunPlan(ctx context.Context, inv Invocation) error {
	c := r.agent.PlanCommand(inv.Prompt, inv.TaskFile)
	return r.run(ctx, c, inv)
}

func (r *Runner) run(ctx context.Context, c Command, inv Invocation) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = inv.Dir
	if env := slices.Concat(c.Env, inv.Env); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.WaitDelay = r.waitDelay

	stderr := &tailBuffer{max: stderrTailLines}
	if c.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		out := &syncWriter{w: inv.Output}
		cmd.Stdout = newLineWriter(func(line string) {
			r.activity(inv)
			if s := r.agent.Transform(line); s != "" {
				out.writeLine(s)
			}
		})
		cmd.Stderr = newLineWriter(func(line string) {
			r.activity(inv)
			stderr.add(line)
			out.writeLine(line)
		})
	}

	r.log.Debug("spawning agent", "agent", r.agent.Name(), "role", inv.Role, "dir", inv.Dir)
	start := time.Now()
	err := cmd.Run()
	flushWriters(cmd.Stdout, cmd.Stderr)

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Agent: r.agent.Name(), Role: inv.Role, Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return fmt.Errorf("run %s agent: %w", r.agent.Name(), err)
	}
	r.log.Debug("agent exited", "agent", r.agent.Name(), "role", inv.Role, "duration", time.Since(start).Round(time.Second))
	return nil
}

func (r *Runner) activity(inv Invocation) {
	if inv.OnActivity != nil {
		inv.OnActivity()
	}
}

// lineWriter splits a byte stream into lines.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onLine func(string)
}

func newLineWriter(onLine func(string)) *lineWriter {
	return &lineWriter{onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.onLine(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.onLine(w.buf.String())
		w.buf.Reset()
	}
}

func flushWriters(writers ...io.Writer) {
	for _, w := range writers {
		if lw, ok := w.(*lineWriter); ok {
			lw.flush()
		}
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) writeLine(line string) {
	if s.w == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line+"\n")
}

// tailBuffer keeps the last max lines.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
