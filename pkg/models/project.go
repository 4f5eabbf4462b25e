package models

import (
	"fmt"
	"time"
)

// GitFlowMode selects how finished work is integrated.
type GitFlowMode string

const (
	// GitFlowPR integrates through an externally managed pull request.
	GitFlowPR GitFlowMode = "pr"
	// GitFlowCommit integrates by rebasing and pushing a local branch.
	GitFlowCommit GitFlowMode = "commit"
)

// Valid returns true if the mode is a known value.
func (m GitFlowMode) Valid() bool {
	return m == GitFlowPR || m == GitFlowCommit
}

// Project is a backlog processed by one scheduler.
type Project struct {
	// ID identifies the project in the backlog.
	ID string `json:"id"`
	// Enabled controls whether the scheduler runs the project at all.
	Enabled bool `json:"enabled"`
	// Concurrency is the maximum number of tasks executing at once.
	Concurrency int `json:"concurrency"`
	// TargetBranch is the branch work is integrated into. Empty means the
	// repository default.
	TargetBranch string `json:"target_branch,omitempty"`
	// GitFlow selects the integration strategy.
	GitFlow GitFlowMode `json:"git_flow"`
	// ReviewAgent runs a reviewer after each worker.
	ReviewAgent bool `json:"review_agent"`
}

// Validate checks the project for configuration errors.
func (p Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	if p.Concurrency < 1 {
		return fmt.Errorf("project %s: concurrency must be at least 1, got %d", p.ID, p.Concurrency)
	}
	if !p.GitFlow.Valid() {
		return fmt.Errorf("project %s: invalid git flow %q (valid: pr, commit)", p.ID, p.GitFlow)
	}
	return nil
}

// LivenessPolicy bounds how long agents may run.
type LivenessPolicy struct {
	// StallTimeout is the longest an agent may go without any progress.
	StallTimeout time.Duration
	// RunTimeout caps the whole work and review phase of a task.
	RunTimeout time.Duration
}

// PolicyFromMinutes builds a LivenessPolicy from minute values.
func PolicyFromMinutes(stallMinutes, runMinutes int) LivenessPolicy {
	return LivenessPolicy{
		StallTimeout: time.Duration(stallMinutes) * time.Minute,
		RunTimeout:   time.Duration(runMinutes) * time.Minute,
	}
}
