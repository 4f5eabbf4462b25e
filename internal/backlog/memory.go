package backlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Mutation is one write recorded by Memory.
type Mutation struct {
	Op     string // create, update, cancel, flag
	ID     string
	Update Update
	Reason string
}

// Memory is an in-process IssueSource.
type Memory struct {
	name string

	mu        sync.Mutex
	tasks     map[string]*models.Task
	order     []string
	nextID    int
	mutations []Mutation
	failNext  map[string]error
}

// NewMemory creates a Memory source seeded with tasks.
func NewMemory(name string, tasks ...models.Task) *Memory {
	m := &Memory{name: name, tasks: make(map[string]*models.Task), failNext: make(map[string]error)}
	for _, t := range tasks {
		m.insert(t)
	}
	return m
}

func (m *Memory) insert(t models.Task) models.Task {
	for t.ID == "" {
		m.nextID++
		if id := fmt.Sprintf("T-%d", m.nextID); m.tasks[id] == nil {
			t.ID = id
		}
	}
	if t.State == "" {
		t.State = models.TaskStateTodo
	}
	t.UpdatedAt = time.Now()
	c := t.Clone()
	m.tasks[t.ID] = &c
	m.order = append(m.order, t.ID)
	return t.Clone()
}

// Name returns the source name.
func (m *Memory) Name() string { return m.name }

// List returns open tasks in insertion order.
func (m *Memory) List(_ context.Context) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("list"); err != nil {
		return nil, err
	}
	out := make([]models.Task, 0, len(m.order))
	for _, id := range m.order {
		if t, ok := m.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Get returns one task.
func (m *Memory) Get(_ context.Context, id string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}
	return t.Clone(), nil
}

// Create adds a task, assigning an id when it has none.
func (m *Memory) Create(_ context.Context, task models.Task) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("create"); err != nil {
		return models.Task{}, err
	}
	if _, exists := m.tasks[task.ID]; task.ID != "" && exists {
		return models.Task{}, fmt.Errorf("task %s already exists", task.ID)
	}
	created := m.insert(task)
	m.mutations = append(m.mutations, Mutation{Op: "create", ID: created.ID})
	return created, nil
}

// Update applies u to a task.
func (m *Memory) Update(_ context.Context, id string, u Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("update"); err != nil {
		return err
	}
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}
	u.Apply(t)
	t.UpdatedAt = time.Now()
	m.mutations = append(m.mutations, Mutation{Op: "update", ID: id, Update: u})
	return nil
}

// Cancel removes a task.
func (m *Memory) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}
	delete(m.tasks, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mutations = append(m.mutations, Mutation{Op: "cancel", ID: id})
	return nil
}

// FlagUnmergable flags a task.
func (m *Memory) FlagUnmergable(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}
	t.Unmergable = true
	t.UnmergableReason = reason
	m.mutations = append(m.mutations, Mutation{Op: "flag", ID: id, Reason: reason})
	return nil
}

// Mutations returns every recorded write in order.
func (m *Memory) Mutations() []Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mutation(nil), m.mutations...)
}

// StateChanges returns the states a task was moved to, in order.
func (m *Memory) StateChanges(id string) []models.TaskState {
	var states []models.TaskState
	for _, mu := range m.Mutations() {
		if mu.ID == id && mu.Op == "update" && mu.Update.State != nil {
			states = append(states, *mu.Update.State)
		}
	}
	return states
}

// FailNext makes the next call of op (list, create, update) return err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = err
}

func (m *Memory) takeFailure(op string) error {
	err, ok := m.failNext[op]
	if ok {
		delete(m.failNext, op)
	}
	return err
}

// Verify Memory implements IssueSource at compile time.
var _ IssueSource = (*Memory)(nil)
