package github

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Comment is one piece of reviewer feedback on a PR.
type Comment struct {
	Author    string
	Body      string
	Path      string // set for inline review comments
	Line      int
	State     string // review state for review summaries
	CreatedAt time.Time
}

// ReviewComments collects conversation comments, review summaries and
// inline review comments for a PR, oldest first.
func (c *Client) ReviewComments(ctx context.Context, number int) ([]Comment, error) {
	out, err := c.gh(ctx, "pr", "view", strconv.Itoa(number), "--json", "comments,reviews")
	if err != nil {
		return nil, err
	}
	comments := parseConversation(out)

	inline, err := c.gh(ctx, "api", fmt.Sprintf("repos/{owner}/{repo}/pulls/%d/comments", number))
	if err != nil {
		return nil, err
	}
	comments = append(comments, parseInline(inline)...)

	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments, nil
}

func parseConversation(out string) []Comment {
	var comments []Comment
	r := gjson.Parse(out)
	r.Get("comments").ForEach(func(_, v gjson.Result) bool {
		comments = append(comments, Comment{
			Author:    v.Get("author.login").String(),
			Body:      v.Get("body").String(),
			CreatedAt: v.Get("createdAt").Time(),
		})
		return true
	})
	r.Get("reviews").ForEach(func(_, v gjson.Result) bool {
		body := strings.TrimSpace(v.Get("body").String())
		state := v.Get("state").String()
		if body == "" && state != "CHANGES_REQUESTED" {
			return true
		}
		comments = append(comments, Comment{
			Author:    v.Get("author.login").String(),
			Body:      body,
			State:     state,
			CreatedAt: v.Get("submittedAt").Time(),
		})
		return true
	})
	return comments
}

func parseInline(out string) []Comment {
	var comments []Comment
	gjson.Parse(out).ForEach(func(_, v gjson.Result) bool {
		line := v.Get("line")
		if !line.Exists() || line.Type == gjson.Null {
			line = v.Get("original_line")
		}
		comments = append(comments, Comment{
			Author:    v.Get("user.login").String(),
			Body:      v.Get("body").String(),
			Path:      v.Get("path").String(),
			Line:      int(line.Int()),
			CreatedAt: v.Get("created_at").Time(),
		})
		return true
	})
	return comments
}

// FormatFeedback renders comments as a markdown document for the worker.
func FormatFeedback(pr *PullRequest, comments []Comment) string {
	var b strings.Builder
	if pr != nil {
		fmt.Fprintf(&b, "# Reviewer feedback for PR #%d\n\n", pr.Number)
	} else {
		b.WriteString("# Reviewer feedback\n\n")
	}
	if len(comments) == 0 {
		b.WriteString("No feedback yet.\n")
		return b.String()
	}
	for _, c := range comments {
		switch {
		case c.Path != "":
			fmt.Fprintf(&b, "## %s on %s:%d\n\n", c.Author, c.Path, c.Line)
		case c.State != "":
			fmt.Fprintf(&b, "## %s (review: %s)\n\n", c.Author, strings.ToLower(strings.ReplaceAll(c.State, "_", " ")))
		default:
			fmt.Fprintf(&b, "## %s\n\n", c.Author)
		}
		if c.Body != "" {
			b.WriteString(c.Body)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
