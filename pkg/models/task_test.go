package models

import "testing"

func TestTaskState_Valid(t *testing.T) {
	tests := []struct {
		state TaskState
		want  bool
	}{
		{TaskStateTodo, true},
		{TaskStateInProgress, true},
		{TaskStateInReview, true},
		{TaskStateDone, true},
		{TaskState(""), false},
		{TaskState("in_progress"), false},
		{TaskState("canceled"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Valid(); got != tt.want {
				t.Errorf("TaskState(%q).Valid() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestTaskState_Active(t *testing.T) {
	if TaskStateTodo.Active() {
		t.Error("todo should not be active")
	}
	if !TaskStateInProgress.Active() {
		t.Error("in-progress should be active")
	}
	if !TaskStateInReview.Active() {
		t.Error("in-review should be active")
	}
	if TaskStateDone.Active() {
		t.Error("done should not be active")
	}
}

func TestParseTaskState(t *testing.T) {
	tests := []struct {
		in      string
		want    TaskState
		wantErr bool
	}{
		{"todo", TaskStateTodo, false},
		{"in-progress", TaskStateInProgress, false},
		{"in_progress", TaskStateInProgress, false},
		{"review", TaskStateInReview, false},
		{"done", TaskStateDone, false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTaskState(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTaskState(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTaskState(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTask_Eligible(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"todo unblocked", Task{ID: "T-1", State: TaskStateTodo}, true},
		{"todo blocked", Task{ID: "T-1", State: TaskStateTodo, BlockedBy: []string{"T-0"}}, false},
		{"no id yet", Task{State: TaskStateTodo}, false},
		{"in progress", Task{ID: "T-1", State: TaskStateInProgress}, false},
		{"done", Task{ID: "T-1", State: TaskStateDone}, false},
		{"unmergable", Task{ID: "T-1", State: TaskStateTodo, Unmergable: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.Eligible(); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	est := 3.0
	orig := Task{ID: "T-1", Estimate: &est, PRNumber: IntPtr(7), BlockedBy: []string{"T-0"}}

	c := orig.Clone()
	*c.Estimate = 5
	*c.PRNumber = 9
	c.BlockedBy[0] = "T-9"

	if *orig.Estimate != 3 {
		t.Errorf("Estimate changed through clone: %v", *orig.Estimate)
	}
	if *orig.PRNumber != 7 {
		t.Errorf("PRNumber changed through clone: %v", *orig.PRNumber)
	}
	if orig.BlockedBy[0] != "T-0" {
		t.Errorf("BlockedBy changed through clone: %v", orig.BlockedBy)
	}
}

func TestProject_Validate(t *testing.T) {
	tests := []struct {
		name    string
		project Project
		wantErr bool
	}{
		{"valid pr", Project{ID: "web", Concurrency: 2, GitFlow: GitFlowPR}, false},
		{"valid commit", Project{ID: "web", Concurrency: 1, GitFlow: GitFlowCommit}, false},
		{"missing id", Project{Concurrency: 1, GitFlow: GitFlowPR}, true},
		{"zero concurrency", Project{ID: "web", GitFlow: GitFlowPR}, true},
		{"bad flow", Project{ID: "web", Concurrency: 1, GitFlow: "squash"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.project.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
