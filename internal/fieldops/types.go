package fieldops

import "fieldsync/internal/remote"

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	TaskAssigned   TaskStatus = "assigned"
	TaskAccepted   TaskStatus = "accepted"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskVerified   TaskStatus = "verified"
)

type Vehicle struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Capacity int    `json:"capacity"`
}

// Worker is the signed-in field worker
type Worker struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Email           string           `json:"email,omitempty"`
	Phone           string           `json:"phone,omitempty"`
	EmployeeID      string           `json:"employeeId,omitempty"`
	Department      string           `json:"department,omitempty"`
	AssignedArea    string           `json:"assignedArea,omitempty"`
	IsOnDuty        bool             `json:"isOnDuty"`
	CurrentLocation *remote.Location `json:"currentLocation,omitempty"`
	Vehicle         *Vehicle         `json:"vehicle,omitempty"`
}

type TaskLocation struct {
	Address     string          `json:"address"`
	Coordinates remote.Location `json:"coordinates"`
	Landmark    string          `json:"landmark,omitempty"`
}

// Task is a unit of field work assigned to a worker
type Task struct {
	ID                  string       `json:"id"`
	Type                string       `json:"type"`
	Priority            string       `json:"priority,omitempty"`
	AssignedTo          string       `json:"assignedTo,omitempty"`
	AssignedBy          string       `json:"assignedBy,omitempty"`
	Location            TaskLocation `json:"location"`
	WasteType           string       `json:"wasteType,omitempty"`
	EstimatedQuantity   string       `json:"estimatedQuantity,omitempty"`
	SpecialInstructions string       `json:"specialInstructions,omitempty"`
	AssignedAt          string       `json:"assignedAt,omitempty"`
	DueDate             string       `json:"dueDate,omitempty"`
	AcceptedAt          string       `json:"acceptedAt,omitempty"`
	StartedAt           string       `json:"startedAt,omitempty"`
	CompletedAt         string       `json:"completedAt,omitempty"`
	ReferencePhotos     []string     `json:"referencePhotos"`
	CompletionPhotos    []string     `json:"completionPhotos"`
	Status              TaskStatus   `json:"status"`
	CompletionNotes     string       `json:"completionNotes,omitempty"`
}

// Completion is what the worker submits when closing a task
type Completion struct {
	Notes  string
	Photos []string
}
