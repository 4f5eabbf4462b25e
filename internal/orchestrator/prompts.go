package orchestrator

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/taskpilot/internal/gitflow"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Control files exchanged with agents inside <worktree>/.taskpilot.
const (
	SelectionFile    = "task.json"
	InstructionsFile = "instructions.md"
	FeedbackFile     = "feedback.md"
	BacklogFile      = "backlog.yaml"
)

// selection is the artifact the chooser writes. JSON is valid YAML, so
// either encoding is accepted.
type selection struct {
	ID       string `yaml:"id"`
	PRNumber *int   `yaml:"prNumber"`
}

func parseSelection(data []byte) (selection, error) {
	var sel selection
	if len(bytes.TrimSpace(data)) == 0 {
		return sel, fmt.Errorf("%s is empty", SelectionFile)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("parse %s: %w", SelectionFile, err)
	}
	sel.ID = strings.TrimSpace(sel.ID)
	return sel, nil
}

// backlogEntry is what the chooser sees of each eligible task.
type backlogEntry struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Priority    int      `yaml:"priority"`
	Estimate    *float64 `yaml:"estimate,omitempty"`
	PRNumber    *int     `yaml:"prNumber,omitempty"`
}

func writeBacklogFile(path string, tasks []models.Task) error {
	entries := make([]backlogEntry, len(tasks))
	for i, t := range tasks {
		entries[i] = backlogEntry{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Priority:    t.Priority,
			Estimate:    t.Estimate,
			PRNumber:    t.PRNumber,
		}
	}
	data, err := yaml.Marshal(map[string]any{"tasks": entries})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var (
	chooserTmpl = template.Must(template.New("chooser").Parse(`You are choosing the next task for an autonomous coding worker.

The eligible tasks of project {{.Project}} are listed in .taskpilot/{{.BacklogFile}}, most urgent first.
Priority 1 is urgent and 4 is low; 0 means no priority.
{{- if .RequiresPR}}
Prefer tasks that already have a prNumber: they carry reviewer feedback waiting to be addressed.
{{- end}}

Pick exactly one task and write your choice to .taskpilot/{{.SelectionFile}} as JSON:

    {"id": "<task id>"{{if .RequiresPR}}, "prNumber": <number or omit>{{end}}}

If none of the tasks can be worked on, write {"id": ""}.
Do not modify any other file and do not start working on the task.
`))

	instructionsTmpl = template.Must(template.New("instructions").Parse(`# Task {{.Task.ID}}: {{.Task.Title}}

{{if .Task.Description}}{{.Task.Description}}

{{end}}## Setup

{{.Setup}}

## Committing

{{.Commit}}
{{- if .SpecsDir}}

## Specifications

Project specifications live in {{.SpecsDir}}. Read the ones relevant to this task before changing code.
{{- end}}
{{- if .HasFeedback}}

## Reviewer feedback

Reviewers left feedback in .taskpilot/{{.FeedbackFile}}. Address every point.
{{- end}}

## Finishing

When the task is complete, move it to review:

    taskpilot task update {{.Task.ID}} --state in-review

Leave the task in progress if you could not finish it.
`))

	workerTmpl = template.Must(template.New("worker").Parse(`Complete task {{.Task.ID}} by following the instructions in the attached file.
Work only inside this directory.`))

	reviewerTmpl = template.Must(template.New("reviewer").Parse(`You are reviewing the work another agent did on task {{.Task.ID}}.
The original instructions are in the attached file.

{{.Review}}

If the work is complete and correct, make sure the task is in review:

    taskpilot task update {{.Task.ID}} --state in-review`))

	timeoutTmpl = template.Must(template.New("timeout").Parse(`Time is up for task {{.Task.ID}}. Stop working on new changes.
Commit whatever is in progress with a message starting with "{{.Task.ID}}: WIP" and append a short
summary of what remains to the task description:

    taskpilot task update {{.Task.ID}} --append-description "<what remains>"

Do not change the task state.`))
)

type promptData struct {
	Project       string
	Task          models.Task
	Setup         string
	Commit        string
	Review        string
	SpecsDir      string
	HasFeedback   bool
	RequiresPR    bool
	BacklogFile   string
	SelectionFile string
	FeedbackFile  string
}

func newPromptData(project string, task models.Task, strategy gitflow.Strategy, in gitflow.Instructions) promptData {
	return promptData{
		Project:       project,
		Task:          task,
		Setup:         strategy.SetupInstructions(in),
		Commit:        strategy.CommitInstructions(in),
		Review:        strategy.ReviewInstructions(in),
		RequiresPR:    strategy.RequiresPR(),
		BacklogFile:   BacklogFile,
		SelectionFile: SelectionFile,
		FeedbackFile:  FeedbackFile,
	}
}

func render(t *template.Template, data any) string {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		panic(fmt.Sprintf("render %s prompt: %v", t.Name(), err))
	}
	return b.String()
}
