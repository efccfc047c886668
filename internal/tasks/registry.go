// Package tasks tracks background jobs that run beside the chat, such as
// link preview generation.
package tasks

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
)

// Registry is an ordered, most-recent-first collection of tasks. Each
// update is a keyed merge, so concurrent tasks never touch each other's
// records. Progress values are stored as given.
type Registry struct {
	publishMu sync.Mutex

	mu      sync.RWMutex
	tasks   []*domain.ProgressTask
	subs    map[int]func([]domain.ProgressTask)
	nextSub int
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[int]func([]domain.ProgressTask)),
		now:  time.Now,
	}
}

// AddTask registers a task at the front of the list and returns its id.
func (r *Registry) AddTask(spec domain.TaskSpec) string {
	status := spec.Status
	if status == "" {
		status = domain.TaskStatusPending
	}
	task := &domain.ProgressTask{
		ID:       uuid.NewString(),
		Title:    spec.Title,
		URL:      spec.URL,
		Status:   status,
		Progress: spec.Progress,
		Message:  spec.Message,
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	task.CreatedAt = r.now()
	r.tasks = slices.Insert(r.tasks, 0, task)
	r.mu.Unlock()

	r.notify()
	return task.ID
}

// UpdateTask merges u into the task. It reports false when id is unknown.
func (r *Registry) UpdateTask(id string, u domain.TaskUpdate) bool {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	u.Apply(r.tasks[idx])
	r.mu.Unlock()

	r.notify()
	return true
}

// RemoveTask deletes the task. It reports false when id is unknown.
func (r *Registry) RemoveTask(id string) bool {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	r.tasks = slices.Delete(r.tasks, idx, idx+1)
	r.mu.Unlock()

	r.notify()
	return true
}

// ClearCompleted removes every completed or failed task and returns how
// many were removed.
func (r *Registry) ClearCompleted() int {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	before := len(r.tasks)
	r.tasks = slices.DeleteFunc(r.tasks, func(t *domain.ProgressTask) bool {
		return t.Status.IsTerminal()
	})
	removed := before - len(r.tasks)
	r.mu.Unlock()

	if removed > 0 {
		r.notify()
	}
	return removed
}

// GetTask returns a copy of the task.
func (r *Registry) GetTask(id string) (domain.ProgressTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return domain.ProgressTask{}, false
	}
	return copyTask(r.tasks[idx]), true
}

// List returns copies of all tasks, most recent first.
func (r *Registry) List() []domain.ProgressTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProgressTask, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = copyTask(t)
	}
	return out
}

// Subscribe registers fn for every change and returns a function that
// removes it. fn receives the full list and must not modify the registry.
func (r *Registry) Subscribe(fn func([]domain.ProgressTask)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// notify must be called with publishMu held.
func (r *Registry) notify() {
	r.mu.RLock()
	if len(r.subs) == 0 {
		r.mu.RUnlock()
		return
	}
	subs := make([]func([]domain.ProgressTask), 0, len(r.subs))
	for i := 0; i < r.nextSub; i++ {
		if fn, ok := r.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	r.mu.RUnlock()

	list := r.List()
	for _, fn := range subs {
		fn(list)
	}
}

func (r *Registry) indexLocked(id string) int {
	return slices.IndexFunc(r.tasks, func(t *domain.ProgressTask) bool { return t.ID == id })
}

func copyTask(t *domain.ProgressTask) domain.ProgressTask {
	c := *t
	if t.Result != nil {
		res := *t.Result
		res.Tags = slices.Clone(t.Result.Tags)
		c.Result = &res
	}
	return c
}
