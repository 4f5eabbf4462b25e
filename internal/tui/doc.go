// Package tui renders taskpilot's worker and backlog status for the
// terminal. Rendering is non-interactive: callers print the strings it
// returns.
package tui
