package models

import "fmt"

// Outcome describes how a worker's task run ended.
type Outcome string

const (
	// OutcomeSucceeded indicates the task was completed or handed to review.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed indicates the run failed and was rolled back.
	OutcomeFailed Outcome = "failed"
	// OutcomeStalled indicates an agent made no progress in time.
	OutcomeStalled Outcome = "stalled"
	// OutcomeTimedOut indicates the run exceeded its hard ceiling.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeStateChanged indicates the backlog changed the task under the run.
	OutcomeStateChanged Outcome = "state_changed"
	// OutcomeNoWork indicates there was nothing eligible to pick.
	OutcomeNoWork Outcome = "no_work"
)

// Phase orders worker statuses. A worker never moves to a lower phase
// except by exiting.
type Phase int

const (
	PhaseBooting Phase = iota
	PhaseChoosing
	PhaseWorking
	PhaseReviewing
	PhaseMerging
	PhaseExited
)

// WorkerStatus is one of Booting, ChoosingTask, Working, Reviewing,
// Merging or Exited.
type WorkerStatus interface {
	Phase() Phase
	workerStatus()
}

// Booting is the status of a slot preparing its workspace.
type Booting struct{}

// ChoosingTask is the status while the selection agent runs.
type ChoosingTask struct{}

// Working is the status while the worker agent runs.
type Working struct{ TaskID string }

// Reviewing is the status while the reviewer agent runs.
type Reviewing struct{ TaskID string }

// Merging is the status while finished work is integrated.
type Merging struct{ TaskID string }

// Exited is the terminal status. TaskID is empty when no task was claimed.
type Exited struct {
	TaskID  string
	Outcome Outcome
}

func (Booting) Phase() Phase      { return PhaseBooting }
func (ChoosingTask) Phase() Phase { return PhaseChoosing }
func (Working) Phase() Phase      { return PhaseWorking }
func (Reviewing) Phase() Phase    { return PhaseReviewing }
func (Merging) Phase() Phase      { return PhaseMerging }
func (Exited) Phase() Phase       { return PhaseExited }

func (Booting) workerStatus()      {}
func (ChoosingTask) workerStatus() {}
func (Working) workerStatus()      {}
func (Reviewing) workerStatus()    {}
func (Merging) workerStatus()      {}
func (Exited) workerStatus()       {}

// WorkerState is the observable state of one scheduler slot.
type WorkerState struct {
	// Slot is the iteration index that started the run.
	Slot int
	// Project is the project the slot belongs to.
	Project string
	// Status is the current lifecycle status.
	Status WorkerStatus
}

// CanTransition reports whether a worker may move from prev to next.
// A nil prev means the worker has not reported yet and must start Booting.
func CanTransition(prev, next WorkerStatus) bool {
	if next == nil {
		return false
	}
	if prev == nil {
		return next.Phase() == PhaseBooting
	}
	if prev.Phase() == PhaseExited {
		return false
	}
	if next.Phase() == PhaseExited {
		return true
	}
	return next.Phase() > prev.Phase()
}

// StatusTaskID returns the task a status refers to, if any.
func StatusTaskID(s WorkerStatus) string {
	switch v := s.(type) {
	case Working:
		return v.TaskID
	case Reviewing:
		return v.TaskID
	case Merging:
		return v.TaskID
	case Exited:
		return v.TaskID
	default:
		return ""
	}
}

// DescribeStatus renders a status for humans.
func DescribeStatus(s WorkerStatus) string {
	switch v := s.(type) {
	case Booting:
		return "booting"
	case ChoosingTask:
		return "choosing task"
	case Working:
		return fmt.Sprintf("working on %s", v.TaskID)
	case Reviewing:
		return fmt.Sprintf("reviewing %s", v.TaskID)
	case Merging:
		return fmt.Sprintf("merging %s", v.TaskID)
	case Exited:
		if v.TaskID == "" {
			return fmt.Sprintf("exited (%s)", v.Outcome)
		}
		return fmt.Sprintf("exited %s (%s)", v.TaskID, v.Outcome)
	case nil:
		return "idle"
	default:
		panic(fmt.Sprintf("unhandled worker status %T", s))
	}
}
