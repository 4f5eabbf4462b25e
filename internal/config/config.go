// Package config handles configuration loading for taskpilot.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/taskpilot/internal/orchestrator/policy"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// ProjectConfigName is the per-repository config file, searched upward
// from the working directory.
const ProjectConfigName = ".taskpilot.yaml"

// Config holds all configuration for taskpilot.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Backlog    BacklogConfig    `mapstructure:"backlog"`
	Worktrees  WorktreesConfig  `mapstructure:"worktrees"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Projects   []ProjectConfig  `mapstructure:"projects"`
}

// RunConfig holds the per-iteration limits of `taskpilot run`.
type RunConfig struct {
	MaxMinutes   int    `mapstructure:"max_minutes"`
	StallMinutes int    `mapstructure:"stall_minutes"`
	SpecsDir     string `mapstructure:"specs_dir"`
	LogLevel     string `mapstructure:"log_level"`
}

// AgentConfig selects the coding agent CLI.
type AgentConfig struct {
	// Name is a built-in agent (claude, codex, opencode) or a label for
	// Command.
	Name string `mapstructure:"name"`
	// Reviewer optionally names a different agent for the review phase.
	Reviewer string `mapstructure:"reviewer"`
	// Command is a custom command template with {prompt} and {task_file}
	// placeholders.
	Command string `mapstructure:"command"`
	// PlanCommand is the interactive variant of Command.
	PlanCommand string `mapstructure:"plan_command"`
}

// BacklogConfig locates the task database.
type BacklogConfig struct {
	// Path is the SQLite file. Empty means .taskpilot/taskpilot.db in the
	// repository.
	Path         string        `mapstructure:"path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// WorktreesConfig locates per-run worktrees.
type WorktreesConfig struct {
	// BaseDir holds the worktrees. Empty means a sibling directory of the
	// repository.
	BaseDir string `mapstructure:"base_dir"`
}

// SchedulingConfig holds the scheduler and lifecycle timings.
type SchedulingConfig struct {
	Backoff      time.Duration `mapstructure:"backoff"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`
	MergeSettle  time.Duration `mapstructure:"merge_settle"`
}

// ProjectConfig is one backlog the scheduler works.
type ProjectConfig struct {
	ID string `mapstructure:"id"`
	// Enabled defaults to true when omitted.
	Enabled      *bool  `mapstructure:"enabled"`
	Concurrency  int    `mapstructure:"concurrency"`
	TargetBranch string `mapstructure:"target_branch"`
	GitFlow      string `mapstructure:"git_flow"`
	ReviewAgent  bool   `mapstructure:"review_agent"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TASKPILOT_MAX_MINUTES, TASKPILOT_STALL_MINUTES, TASKPILOT_LOG_LEVEL)
// 2. Project config (.taskpilot.yaml in current directory or parent)
// 3. User config (~/.config/taskpilot/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Agent.Command = os.ExpandEnv(cfg.Agent.Command)
	cfg.Agent.PlanCommand = os.ExpandEnv(cfg.Agent.PlanCommand)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("run.max_minutes", def.Run.MaxMinutes)
	v.SetDefault("run.stall_minutes", def.Run.StallMinutes)
	v.SetDefault("run.specs_dir", def.Run.SpecsDir)
	v.SetDefault("run.log_level", def.Run.LogLevel)

	v.SetDefault("agent.name", def.Agent.Name)

	v.SetDefault("backlog.poll_interval", def.Backlog.PollInterval.String())

	v.SetDefault("scheduling.backoff", def.Scheduling.Backoff.String())
	v.SetDefault("scheduling.cooldown", def.Scheduling.Cooldown.String())
	v.SetDefault("scheduling.claim_timeout", def.Scheduling.ClaimTimeout.String())
	v.SetDefault("scheduling.merge_settle", def.Scheduling.MergeSettle.String())
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("run.max_minutes", "TASKPILOT_MAX_MINUTES")
	_ = v.BindEnv("run.stall_minutes", "TASKPILOT_STALL_MINUTES")
	_ = v.BindEnv("run.log_level", "TASKPILOT_LOG_LEVEL")
	_ = v.BindEnv("agent.name", "TASKPILOT_AGENT")
	_ = v.BindEnv("backlog.path", "TASKPILOT_BACKLOG_PATH")
}

// getUserConfigDir returns the XDG config directory for taskpilot.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskpilot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskpilot")
	}
	return filepath.Join(home, ".config", "taskpilot")
}

// findProjectConfig searches for .taskpilot.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// Default returns a Config with default values.
func Default() *Config {
	p := policy.Default()
	return &Config{
		Run: RunConfig{
			MaxMinutes:   90,
			StallMinutes: 5,
			SpecsDir:     ".specs",
			LogLevel:     "info",
		},
		Agent: AgentConfig{
			Name: "claude",
		},
		Backlog: BacklogConfig{
			PollInterval: 5 * time.Second,
		},
		Scheduling: SchedulingConfig{
			Backoff:      p.Scheduling.Backoff,
			Cooldown:     p.Scheduling.Cooldown,
			ClaimTimeout: p.Claim.Timeout,
			MergeSettle:  p.Merge.Settle,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Run.MaxMinutes < 0 {
		errs = append(errs, fmt.Errorf("run.max_minutes must not be negative, got %d", c.Run.MaxMinutes))
	}
	if c.Run.StallMinutes < 0 {
		errs = append(errs, fmt.Errorf("run.stall_minutes must not be negative, got %d", c.Run.StallMinutes))
	}
	if c.Agent.Name == "" && c.Agent.Command == "" {
		errs = append(errs, errors.New("agent.name or agent.command is required"))
	}
	seen := make(map[string]bool)
	for _, p := range c.Projects {
		project := p.Model()
		if err := project.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[project.ID] {
			errs = append(errs, fmt.Errorf("project %s is configured twice", project.ID))
		}
		seen[project.ID] = true
	}
	return errors.Join(errs...)
}

// Model converts the project entry, applying defaults: enabled,
// concurrency 1 and the commit flow.
func (p ProjectConfig) Model() models.Project {
	project := models.Project{
		ID:           strings.TrimSpace(p.ID),
		Enabled:      p.Enabled == nil || *p.Enabled,
		Concurrency:  p.Concurrency,
		TargetBranch: p.TargetBranch,
		GitFlow:      models.GitFlowMode(strings.ToLower(p.GitFlow)),
		ReviewAgent:  p.ReviewAgent,
	}
	if project.Concurrency == 0 {
		project.Concurrency = 1
	}
	if project.GitFlow == "" {
		project.GitFlow = models.GitFlowCommit
	}
	return project
}

// EnabledProjects returns the enabled projects in configuration order.
func (c *Config) EnabledProjects() []models.Project {
	var out []models.Project
	for _, p := range c.Projects {
		if project := p.Model(); project.Enabled {
			out = append(out, project)
		}
	}
	return out
}

// Liveness returns the agent time limits.
func (c *Config) Liveness() models.LivenessPolicy {
	return models.PolicyFromMinutes(c.Run.StallMinutes, c.Run.MaxMinutes)
}

// Policy returns the scheduler and lifecycle timings.
func (c *Config) Policy() *policy.Config {
	p := &policy.Config{
		Scheduling: policy.SchedulingPolicy{Backoff: c.Scheduling.Backoff, Cooldown: c.Scheduling.Cooldown},
		Claim:      policy.ClaimPolicy{Timeout: c.Scheduling.ClaimTimeout},
		Merge:      policy.MergePolicy{Settle: c.Scheduling.MergeSettle},
	}
	_ = p.Validate()
	return p
}
