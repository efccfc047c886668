package domain

import "time"

// ProgressTask is a background job tracked outside any chat session.
type ProgressTask struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	URL       string           `json:"url"`
	Status    TaskStatus       `json:"status"`
	Progress  int              `json:"progress"`
	Message   string           `json:"message"`
	Result    *ResourcePreview `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// TaskSpec describes a task to register.
type TaskSpec struct {
	Title    string
	URL      string
	Status   TaskStatus
	Progress int
	Message  string
}

// TaskUpdate is a partial update; nil fields are left unchanged.
type TaskUpdate struct {
	Title    *string
	Status   *TaskStatus
	Progress *int
	Message  *string
	Result   *ResourcePreview
	Error    *string
}

// Apply merges the set fields of u into t.
func (u TaskUpdate) Apply(t *ProgressTask) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	if u.Message != nil {
		t.Message = *u.Message
	}
	if u.Result != nil {
		r := *u.Result
		t.Result = &r
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
}
