// Package github wraps the gh CLI for the pull request operations the
// PR git flow needs.
package github

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/taskpilot/internal/exec"
)

// PR states as reported by gh.
const (
	StateOpen   = "OPEN"
	StateMerged = "MERGED"
	StateClosed = "CLOSED"
)

// ErrNotAuthenticated is returned when gh has no usable credentials.
var ErrNotAuthenticated = errors.New("gh is not authenticated")

// PullRequest is the subset of PR fields taskpilot reads.
type PullRequest struct {
	Number      int
	State       string
	HeadRefName string
	BaseRefName string
	URL         string
}

// Open reports whether the PR is still open.
func (p *PullRequest) Open() bool {
	return p != nil && p.State == StateOpen
}

// Merged reports whether the PR has been merged.
func (p *PullRequest) Merged() bool {
	return p != nil && p.State == StateMerged
}

// Client runs gh inside a repository or worktree directory.
type Client struct {
	dir string
	cmd exec.CommandRunner
}

// NewClient creates a Client for the repository at dir.
func NewClient(dir string, cmd exec.CommandRunner) *Client {
	if cmd == nil {
		cmd = exec.NewRunner()
	}
	return &Client{dir: dir, cmd: cmd}
}

const prFields = "number,state,headRefName,baseRefName,url"

func (c *Client) gh(ctx context.Context, args ...string) (string, error) {
	out, err := c.cmd.Run(ctx, c.dir, "gh", args...)
	if err != nil {
		return "", classifyError(args, err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// classifyError turns gh failures into descriptive errors.
func classifyError(args []string, err error, output []byte) error {
	msg := strings.TrimSpace(string(output))
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "gh auth login") || strings.Contains(lower, "authentication") {
		return fmt.Errorf("gh %s: %w: %s", strings.Join(args[:min(2, len(args))], " "), ErrNotAuthenticated, msg)
	}
	return fmt.Errorf("gh %s: %w: %s", strings.Join(args[:min(2, len(args))], " "), err, msg)
}

func isNoPR(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no pull requests found")
}

func parsePR(out string) (*PullRequest, error) {
	if !gjson.Valid(out) {
		return nil, fmt.Errorf("parse gh output: invalid JSON: %q", out)
	}
	r := gjson.Parse(out)
	return &PullRequest{
		Number:      int(r.Get("number").Int()),
		State:       r.Get("state").String(),
		HeadRefName: r.Get("headRefName").String(),
		BaseRefName: r.Get("baseRefName").String(),
		URL:         r.Get("url").String(),
	}, nil
}

// View returns PR number, or nil when it does not exist.
func (c *Client) View(ctx context.Context, number int) (*PullRequest, error) {
	out, err := c.gh(ctx, "pr", "view", strconv.Itoa(number), "--json", prFields)
	if err != nil {
		if isNoPR(err) || strings.Contains(strings.ToLower(err.Error()), "could not resolve") {
			return nil, nil
		}
		return nil, err
	}
	return parsePR(out)
}

// ForBranch returns the PR whose head is branch, or nil when there is none.
func (c *Client) ForBranch(ctx context.Context, branch string) (*PullRequest, error) {
	out, err := c.gh(ctx, "pr", "view", branch, "--json", prFields)
	if err != nil {
		if isNoPR(err) {
			return nil, nil
		}
		return nil, err
	}
	return parsePR(out)
}

// Merge squash-merges a PR and deletes its branch.
func (c *Client) Merge(ctx context.Context, number int) error {
	_, err := c.gh(ctx, "pr", "merge", strconv.Itoa(number), "--squash", "--delete-branch")
	return err
}

// Close closes a PR, leaving comment on it.
func (c *Client) Close(ctx context.Context, number int, comment string) error {
	args := []string{"pr", "close", strconv.Itoa(number)}
	if comment != "" {
		args = append(args, "--comment", comment)
	}
	_, err := c.gh(ctx, args...)
	return err
}

// EditBase retargets a PR onto base.
func (c *Client) EditBase(ctx context.Context, number int, base string) error {
	_, err := c.gh(ctx, "pr", "edit", strconv.Itoa(number), "--base", base)
	return err
}

// Checkout checks out the PR's head branch in the client's directory.
func (c *Client) Checkout(ctx context.Context, number int) error {
	_, err := c.gh(ctx, "pr", "checkout", strconv.Itoa(number), "--force")
	return err
}
