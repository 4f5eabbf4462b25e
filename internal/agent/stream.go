package agent

import (
	"strings"

	"github.com/tidwall/gjson"
)

// formatStreamLine renders one claude stream-json event as a short,
// human-readable line. Non-JSON lines pass through unchanged.
func formatStreamLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if !gjson.Valid(line) {
		return line
	}

	event := gjson.Parse(line)
	switch event.Get("type").String() {
	case "assistant":
		var parts []string
		event.Get("message.content").ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				if text := strings.TrimSpace(block.Get("text").String()); text != "" {
					parts = append(parts, text)
				}
			case "tool_use":
				if action := formatToolAction(block); action != "" {
					parts = append(parts, "> "+action)
				}
			}
			return true
		})
		return strings.Join(parts, "\n")
	case "result":
		if event.Get("is_error").Bool() {
			return "error: " + event.Get("result").String()
		}
		return ""
	case "error":
		if msg := event.Get("error.message"); msg.Exists() {
			return "error: " + msg.String()
		}
		return "error: " + event.Get("error").String()
	default:
		return ""
	}
}

// formatToolAction formats a tool_use block into a human-readable string.
func formatToolAction(block gjson.Result) string {
	name := block.Get("name").String()
	if name == "" {
		return ""
	}
	input := block.Get("input")

	switch name {
	case "Read", "Edit", "Write":
		verb := map[string]string{"Read": "Reading", "Edit": "Editing", "Write": "Writing"}[name]
		if path := input.Get("file_path").String(); path != "" {
			return verb + " " + truncateFilename(path)
		}
		return verb + " file"
	case "Bash":
		if cmd := input.Get("command").String(); cmd != "" {
			return "Running " + truncateCommand(cmd)
		}
		return "Running command"
	case "Glob":
		if pattern := input.Get("pattern").String(); pattern != "" {
			return "Searching " + pattern
		}
		return "Searching files"
	case "Grep":
		if pattern := input.Get("pattern").String(); pattern != "" {
			return "Grep " + truncatePattern(pattern)
		}
		return "Searching code"
	case "WebFetch":
		return "Fetching URL"
	case "Task":
		return "Running subagent"
	default:
		return name
	}
}

// truncateFilename extracts just the filename from a path and truncates if needed.
func truncateFilename(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if len(path) > 20 {
		return path[:17] + "..."
	}
	return path
}

// truncateCommand keeps the first word of a command.
func truncateCommand(cmd string) string {
	if i := strings.IndexAny(cmd, " \n"); i >= 0 {
		cmd = cmd[:i]
	}
	if len(cmd) > 20 {
		return cmd[:17] + "..."
	}
	return cmd
}

func truncatePattern(pattern string) string {
	if len(pattern) > 15 {
		return pattern[:12] + "..."
	}
	return pattern
}
