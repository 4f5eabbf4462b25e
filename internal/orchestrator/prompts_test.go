package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/taskpilot/internal/gitflow"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  string
		wantPR  int
		wantErr bool
	}{
		{name: "json", input: `{"id": "T-1"}`, wantID: "T-1"},
		{name: "json with pr", input: `{"id": "T-2", "prNumber": 12}`, wantID: "T-2", wantPR: 12},
		{name: "yaml", input: "id: T-3\n", wantID: "T-3"},
		{name: "padded id", input: `{"id": "  T-4 "}`, wantID: "T-4"},
		{name: "explicit nothing", input: `{"id": ""}`, wantID: ""},
		{name: "empty", input: "  \n", wantErr: true},
		{name: "truncated", input: `{"id": "T-`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := parseSelection([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSelection() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if sel.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", sel.ID, tt.wantID)
			}
			switch {
			case tt.wantPR == 0 && sel.PRNumber != nil:
				t.Errorf("PRNumber = %d, want none", *sel.PRNumber)
			case tt.wantPR != 0 && (sel.PRNumber == nil || *sel.PRNumber != tt.wantPR):
				t.Errorf("PRNumber = %v, want %d", sel.PRNumber, tt.wantPR)
			}
		})
	}
}

func TestWriteBacklogFile(t *testing.T) {
	pr := 9
	path := filepath.Join(t.TempDir(), BacklogFile)
	tasks := []models.Task{
		{ID: "T-1", Title: "First", Priority: 1},
		{ID: "T-2", Title: "Second", PRNumber: &pr},
	}
	if err := writeBacklogFile(path, tasks); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Tasks []backlogEntry `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Tasks) != 2 || got.Tasks[0].ID != "T-1" || got.Tasks[1].ID != "T-2" {
		t.Fatalf("tasks = %+v", got.Tasks)
	}
	if got.Tasks[1].PRNumber == nil || *got.Tasks[1].PRNumber != 9 {
		t.Errorf("PRNumber = %v, want 9", got.Tasks[1].PRNumber)
	}
}

func TestRenderPrompts(t *testing.T) {
	task := models.Task{ID: "T-7", Title: "Add retries", Description: "Retry failed uploads."}
	in := gitflow.Instructions{Task: task, Branch: "taskpilot/slot-1", TargetBranch: "main"}
	data := newPromptData("web", task, &gitflow.Commit{}, in)
	data.SpecsDir = ".specs"
	data.HasFeedback = true

	instructions := render(instructionsTmpl, data)
	for _, want := range []string{
		"# Task T-7: Add retries",
		"Retry failed uploads.",
		"taskpilot task update T-7 --state in-review",
		"Project specifications live in .specs",
		".taskpilot/feedback.md",
	} {
		if !strings.Contains(instructions, want) {
			t.Errorf("instructions missing %q:\n%s", want, instructions)
		}
	}

	chooser := render(chooserTmpl, data)
	if !strings.Contains(chooser, ".taskpilot/task.json") || strings.Contains(chooser, "prNumber") {
		t.Errorf("chooser prompt for the commit flow:\n%s", chooser)
	}
	data.RequiresPR = true
	if chooser := render(chooserTmpl, data); !strings.Contains(chooser, "prNumber") {
		t.Errorf("chooser prompt for the pr flow lacks prNumber:\n%s", chooser)
	}

	if timeout := render(timeoutTmpl, data); !strings.Contains(timeout, "--append-description") {
		t.Errorf("timeout prompt:\n%s", timeout)
	}
}
