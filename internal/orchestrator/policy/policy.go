// Package policy holds the timing parameters of the scheduler and task
// lifecycle so they can be configured and shortened in tests.
package policy

import "time"

// Config contains all configurable timing policies.
type Config struct {
	// Scheduling policies
	Scheduling SchedulingPolicy

	// Claim confirmation policy
	Claim ClaimPolicy

	// Merge policies
	Merge MergePolicy
}

// SchedulingPolicy controls the dispatch loop.
type SchedulingPolicy struct {
	// Backoff is how long an unbounded scheduler waits when the backlog has
	// nothing eligible.
	Backoff time.Duration

	// Cooldown is the pause after a failed task run before its slot is
	// reused.
	Cooldown time.Duration
}

// ClaimPolicy controls the in-progress confirmation after selection.
type ClaimPolicy struct {
	// Timeout bounds the wait for the backlog to confirm a claim.
	Timeout time.Duration
}

// MergePolicy controls auto-merge.
type MergePolicy struct {
	// Settle is how long to wait after a merge request before re-checking.
	Settle time.Duration
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Scheduling: SchedulingPolicy{
			Backoff:  30 * time.Second,
			Cooldown: 10 * time.Second,
		},
		Claim: ClaimPolicy{
			Timeout: time.Minute,
		},
		Merge: MergePolicy{
			Settle: 10 * time.Second,
		},
	}
}

// Validate replaces non-positive values with their defaults.
func (c *Config) Validate() error {
	def := Default()
	if c.Scheduling.Backoff <= 0 {
		c.Scheduling.Backoff = def.Scheduling.Backoff
	}
	if c.Scheduling.Cooldown <= 0 {
		c.Scheduling.Cooldown = def.Scheduling.Cooldown
	}
	if c.Claim.Timeout <= 0 {
		c.Claim.Timeout = def.Claim.Timeout
	}
	if c.Merge.Settle <= 0 {
		c.Merge.Settle = def.Merge.Settle
	}
	return nil
}
