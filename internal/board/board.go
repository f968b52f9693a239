// Package board derives the three status columns of a project board from a
// task list and applies drag-and-drop moves.
package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"taskboard/internal/models"
)

var (
	ErrUnknownSortMode = errors.New("unknown sort mode")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrMoveFailed      = errors.New("failed to move task")
)

// SortMode orders the tasks of each column.
type SortMode string

const (
	SortNone        SortMode = "none"
	SortDueDateAsc  SortMode = "dueDate-asc"
	SortDueDateDesc SortMode = "dueDate-desc"
)

// ParseSortMode accepts the wire names of the sort modes. An empty string is
// the same as "none".
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(strings.TrimSpace(s)) {
	case "", SortNone:
		return SortNone, nil
	case SortDueDateAsc:
		return SortDueDateAsc, nil
	case SortDueDateDesc:
		return SortDueDateDesc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSortMode, s)
}

// PrioritySet selects tasks by priority. An empty set selects every task.
type PrioritySet map[models.Priority]struct{}

// NewPrioritySet builds a set from the given priorities.
func NewPrioritySet(priorities ...models.Priority) PrioritySet {
	set := make(PrioritySet, len(priorities))
	for _, p := range priorities {
		set[p] = struct{}{}
	}
	return set
}

// ParsePriorities reads a comma separated priority list such as "low,high".
func ParsePriorities(s string) (PrioritySet, error) {
	set := PrioritySet{}
	for _, part := range strings.Split(s, ",") {
		p := models.Priority(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", models.ErrInvalidPriority, part)
		}
		set[p] = struct{}{}
	}
	return set, nil
}

// Contains reports whether tasks of priority p pass the filter.
func (s PrioritySet) Contains(p models.Priority) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[p]
	return ok
}

// Derive filters tasks by priority and orders them by due date. Tasks without
// a due date cannot be compared, so they keep their positions in the filtered
// list; dated tasks are stably sorted into the remaining positions.
func Derive(tasks []models.Task, priorities PrioritySet, mode SortMode) []models.Task {
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if priorities.Contains(t.Priority) {
			out = append(out, t)
		}
	}
	if mode != SortDueDateAsc && mode != SortDueDateDesc {
		return out
	}

	var slots []int
	var dated []models.Task
	for i, t := range out {
		if t.DueDate != nil {
			slots = append(slots, i)
			dated = append(dated, t)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		if mode == SortDueDateDesc {
			return dated[i].DueDate.After(*dated[j].DueDate)
		}
		return dated[i].DueDate.Before(*dated[j].DueDate)
	})
	for i, slot := range slots {
		out[slot] = dated[i]
	}
	return out
}

// Column is one status column of the board.
type Column struct {
	ID    models.Status `json:"id"`
	Title string        `json:"title"`
	Tasks []models.Task `json:"tasks"`
	Count int           `json:"count"`
}

var columnTitles = map[models.Status]string{
	models.StatusTodo:       "To Do",
	models.StatusInProgress: "In Progress",
	models.StatusDone:       "Done",
}

// Columns splits tasks into the fixed status columns and derives each column
// on its own, so sorting never moves a task relative to another column.
func Columns(tasks []models.Task, priorities PrioritySet, mode SortMode) []Column {
	byStatus := make(map[models.Status][]models.Task, len(models.Statuses))
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	columns := make([]Column, 0, len(models.Statuses))
	for _, status := range models.Statuses {
		col := Column{ID: status, Title: columnTitles[status], Tasks: Derive(byStatus[status], priorities, mode)}
		col.Count = len(col.Tasks)
		columns = append(columns, col)
	}
	return columns
}

// Updater writes partial task updates and reports whether the write succeeded.
type Updater interface {
	Update(ctx context.Context, id string, fields map[string]any) bool
}

// Move drops a task onto a column. The only field written is the status;
// the order inside a column is not tracked.
func Move(ctx context.Context, tasks Updater, taskID string, column models.Status) error {
	if !column.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if !tasks.Update(ctx, taskID, map[string]any{"status": string(column)}) {
		return ErrMoveFailed
	}
	return nil
}
