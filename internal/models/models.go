package models

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskboard/internal/docstore"
)

// Collection names used in the document store.
const (
	CollectionProjects = "projects"
	CollectionTasks    = "tasks"
)

var (
	ErrEmptyTitle      = errors.New("title must not be empty")
	ErrInvalidStatus   = errors.New("invalid task status")
	ErrInvalidPriority = errors.New("invalid task priority")
)

// Status is both the workflow stage of a task and the board column it shows in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Project groups tasks and the people working on them.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Members     []string  `json:"members"`
	CreateAt    time.Time `json:"createAt"`
	UpdateAt    time.Time `json:"updateAt"`
}

// Task represents a single card on a project board.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	CreateAt    time.Time  `json:"createAt"`
	UpdateAt    time.Time  `json:"updateAt"`
}

// ProjectFromDocument decodes a stored project.
func ProjectFromDocument(doc docstore.Document) (Project, error) {
	var p Project
	if err := doc.Decode(&p); err != nil {
		return Project{}, err
	}
	if p.Members == nil {
		p.Members = []string{}
	}
	return p, nil
}

// TaskFromDocument decodes a stored task.
func TaskFromDocument(doc docstore.Document) (Task, error) {
	var t Task
	if err := doc.Decode(&t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// ProjectInput is the payload of the create project form.
type ProjectInput struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Members     []string `json:"members" yaml:"members" binding:"omitempty,dive,email"`
}

func (in ProjectInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// Fields converts the input into document fields owned by ownerID.
func (in ProjectInput) Fields(ownerID string) map[string]any {
	return map[string]any{
		"ownerId":     ownerID,
		"title":       strings.TrimSpace(in.Title),
		"description": strings.TrimSpace(in.Description),
		"members":     NormalizeMembers(in.Members),
	}
}

// ProjectPatch carries the fields of an edit; nil fields stay unchanged.
type ProjectPatch struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Members     []string `json:"members" binding:"omitempty,dive,email"`
}

func (p ProjectPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

func (p ProjectPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.Title != nil {
		fields["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		fields["description"] = strings.TrimSpace(*p.Description)
	}
	if p.Members != nil {
		fields["members"] = NormalizeMembers(p.Members)
	}
	return fields
}

// TaskInput is the payload of the create task form. Status and priority
// default to todo and low.
type TaskInput struct {
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description" yaml:"description"`
	Status      Status       `json:"status" yaml:"status"`
	Priority    Priority     `json:"priority" yaml:"priority"`
	DueDate     OptionalTime `json:"dueDate" yaml:"dueDate"`
}

func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return ErrEmptyTitle
	}
	if in.Status != "" && !in.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, in.Priority)
	}
	return nil
}

// Fields converts the input into document fields of a task in projectID.
func (in TaskInput) Fields(projectID string) map[string]any {
	status := in.Status
	if status == "" {
		status = StatusTodo
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityLow
	}
	return map[string]any{
		"projectId":   projectID,
		"title":       strings.TrimSpace(in.Title),
		"description": strings.TrimSpace(in.Description),
		"status":      string(status),
		"priority":    string(priority),
		"dueDate":     in.DueDate.value(),
	}
}

// TaskPatch carries the fields of a task edit; unset fields stay unchanged.
type TaskPatch struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	Status      *Status      `json:"status"`
	Priority    *Priority    `json:"priority"`
	DueDate     OptionalTime `json:"dueDate"`
}

func (p TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrEmptyTitle
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, *p.Priority)
	}
	return nil
}

func (p TaskPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.Title != nil {
		fields["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		fields["description"] = strings.TrimSpace(*p.Description)
	}
	if p.Status != nil {
		fields["status"] = string(*p.Status)
	}
	if p.Priority != nil {
		fields["priority"] = string(*p.Priority)
	}
	if p.DueDate.Set {
		fields["dueDate"] = p.DueDate.value()
	}
	return fields
}

// OptionalTime distinguishes an absent due date from an explicit null.
// Dates are accepted as RFC 3339 timestamps or plain YYYY-MM-DD days.
type OptionalTime struct {
	Set  bool
	Time *time.Time
}

func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.Time = nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("due date must be a string or null")
	}
	return o.parse(string(data[1 : len(data)-1]))
}

func (o *OptionalTime) UnmarshalYAML(node *yaml.Node) error {
	o.Set = true
	o.Time = nil
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("due date must be a scalar")
	}
	if node.ShortTag() == "!!null" {
		return nil
	}
	return o.parse(node.Value)
}

func (o *OptionalTime) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			o.Time = &t
			return nil
		}
	}
	return fmt.Errorf("invalid due date %q", raw)
}

func (o OptionalTime) value() any {
	if o.Time == nil {
		return nil
	}
	return o.Time.UTC().Format(time.RFC3339Nano)
}

// NormalizeMembers trims member entries, drops empty ones and removes
// duplicates while keeping the first occurrence.
func NormalizeMembers(members []string) []string {
	out := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
