// Package agent adapts coding-agent command line tools into spawnable
// commands and runs them.
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Command is a fully resolved process invocation.
type Command struct {
	Name string
	Args []string
	Env  []string
	// Interactive commands inherit the terminal instead of being streamed.
	Interactive bool
}

// String renders the command for logs.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// CliAgent turns a prompt into a spawnable command for one agent tool.
type CliAgent interface {
	// Name is the identifier used in configuration.
	Name() string
	// Command builds a headless invocation working on taskFile.
	Command(prompt, taskFile string) Command
	// PlanCommand builds an interactive planning session.
	PlanCommand(prompt, taskFile string) Command
	// Transform renders one line of process output for display. An empty
	// result drops the line.
	Transform(line string) string
}

// withTaskFile prefixes a prompt with a reference to the task file.
func withTaskFile(prompt, taskFile string) string {
	if taskFile == "" {
		return prompt
	}
	return fmt.Sprintf("@%s\n\n%s", taskFile, prompt)
}

// Claude drives the claude CLI with stream-json output.
type Claude struct {
	Model string
}

// Name returns "claude".
func (Claude) Name() string { return "claude" }

// Command builds a headless claude invocation.
func (c Claude) Command(prompt, taskFile string) Command {
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	args = append(args, "-p", withTaskFile(prompt, taskFile))
	return Command{Name: "claude", Args: args}
}

// PlanCommand starts claude interactively in plan mode.
func (c Claude) PlanCommand(prompt, taskFile string) Command {
	args := []string{"--permission-mode", "plan"}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	args = append(args, withTaskFile(prompt, taskFile))
	return Command{Name: "claude", Args: args, Interactive: true}
}

// Transform pretty-prints a stream-json event.
func (Claude) Transform(line string) string {
	return formatStreamLine(line)
}

// Codex drives the codex CLI.
type Codex struct{}

// Name returns "codex".
func (Codex) Name() string { return "codex" }

// Command builds a non-interactive codex exec invocation.
func (Codex) Command(prompt, taskFile string) Command {
	return Command{Name: "codex", Args: []string{"exec", "--full-auto", withTaskFile(prompt, taskFile)}}
}

// PlanCommand starts an interactive codex session.
func (Codex) PlanCommand(prompt, taskFile string) Command {
	return Command{Name: "codex", Args: []string{withTaskFile(prompt, taskFile)}, Interactive: true}
}

// Transform returns line unchanged.
func (Codex) Transform(line string) string { return line }

// OpenCode drives the opencode CLI.
type OpenCode struct{}

// Name returns "opencode".
func (OpenCode) Name() string { return "opencode" }

// Command builds an opencode run invocation.
func (OpenCode) Command(prompt, taskFile string) Command {
	return Command{Name: "opencode", Args: []string{"run", withTaskFile(prompt, taskFile)}}
}

// PlanCommand starts an interactive opencode session.
func (OpenCode) PlanCommand(prompt, taskFile string) Command {
	return Command{Name: "opencode", Args: []string{"--prompt", withTaskFile(prompt, taskFile)}, Interactive: true}
}

// Transform returns line unchanged.
func (OpenCode) Transform(line string) string { return line }

// Custom runs a user supplied command template. The placeholders
// {prompt} and {taskFile} are substituted per argument after shell-style
// splitting, so they never need quoting in the template.
type Custom struct {
	name string
	argv []string
	plan []string
}

// NewCustom parses command (and optionally planCommand) templates.
func NewCustom(name, command, planCommand string) (*Custom, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse agent command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("agent %q: empty command", name)
	}
	c := &Custom{name: name, argv: argv, plan: argv}
	if planCommand != "" {
		plan, err := shellquote.Split(planCommand)
		if err != nil {
			return nil, fmt.Errorf("parse agent plan command %q: %w", planCommand, err)
		}
		if len(plan) > 0 {
			c.plan = plan
		}
	}
	return c, nil
}

// Name returns the configured agent name.
func (c *Custom) Name() string { return c.name }

// Command substitutes the template placeholders.
func (c *Custom) Command(prompt, taskFile string) Command {
	return expand(c.argv, prompt, taskFile, false)
}

// PlanCommand substitutes the plan template placeholders.
func (c *Custom) PlanCommand(prompt, taskFile string) Command {
	return expand(c.plan, prompt, taskFile, true)
}

// Transform returns line unchanged.
func (c *Custom) Transform(line string) string { return line }

func expand(argv []string, prompt, taskFile string, interactive bool) Command {
	r := strings.NewReplacer("{prompt}", prompt, "{taskFile}", taskFile)
	args := make([]string, 0, len(argv)-1)
	for _, a := range argv[1:] {
		args = append(args, r.Replace(a))
	}
	return Command{Name: argv[0], Args: args, Interactive: interactive}
}

var builtins = map[string]CliAgent{
	"claude":   Claude{},
	"codex":    Codex{},
	"opencode": OpenCode{},
}

// Builtins returns the names of the built-in agents, sorted.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves an agent by name. A non-empty command template always
// wins over the built-in of the same name.
func Lookup(name, command, planCommand string) (CliAgent, error) {
	if command != "" {
		return NewCustom(name, command, planCommand)
	}
	if a, ok := builtins[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unknown agent %q (built-ins: %s)", name, strings.Join(Builtins(), ", "))
}
