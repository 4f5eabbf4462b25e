package exec

import (
	"context"
	"os"
	"os/exec"
	"time"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	env []string
}

// NewRunner creates a new ExecRunner. Extra environment entries in
// KEY=VALUE form are appended to the inherited environment.
func NewRunner(env ...string) *ExecRunner {
	return &ExecRunner{env: env}
}

// Run executes a command and returns combined stdout/stderr output.
// Cancelling ctx kills the process.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd.CombinedOutput()
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
