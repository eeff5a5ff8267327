package domain

import "encoding/json"

// Event names pushed to connected observers.
const (
	TaskCreated    = "taskCreated"
	TaskDeleted    = "taskDeleted"
	TasksReordered = "tasksReordered"
)

type TaskCreatedPayload struct {
	Success bool `json:"success"`
	Task    Task `json:"task"`
}

type TaskDeletedPayload struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId"`
}

// TasksReorderedPayload carries the batch exactly as the client submitted it,
// including records that validation dropped, so observers re-derive the board
// layout from the same data the mover saw.
type TasksReorderedPayload struct {
	Success        bool              `json:"success"`
	ReorderedTasks []json.RawMessage `json:"reorderedTasks"`
}
