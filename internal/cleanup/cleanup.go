// Package cleanup finds tasks left behind by deleted projects.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"taskboard/internal/docstore"
	"taskboard/internal/models"
)

// Reader is the read side of the document store.
type Reader interface {
	Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error)
}

// Deleter removes documents.
type Deleter interface {
	Reader
	Delete(ctx context.Context, collection, id string) error
}

// Orphans lists the tasks whose projectId names no existing project.
func Orphans(ctx context.Context, store Reader) ([]models.Task, error) {
	projects, err := store.Query(ctx, models.CollectionProjects, docstore.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	known := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		known[p.ID] = struct{}{}
	}

	docs, err := store.Query(ctx, models.CollectionTasks, docstore.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var orphans []models.Task
	for _, doc := range docs {
		task, err := models.TaskFromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("decode task %s: %w", doc.ID, err)
		}
		if _, ok := known[task.ProjectID]; !ok {
			orphans = append(orphans, task)
		}
	}
	return orphans, nil
}

// DeleteOrphans removes every orphaned task and returns the ones deleted.
// A task already gone counts as deleted.
func DeleteOrphans(ctx context.Context, store Deleter, logger *log.Logger) ([]models.Task, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	orphans, err := Orphans(ctx, store)
	if err != nil {
		return nil, err
	}
	deleted := make([]models.Task, 0, len(orphans))
	for _, task := range orphans {
		if err := store.Delete(ctx, models.CollectionTasks, task.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return deleted, fmt.Errorf("delete task %s: %w", task.ID, err)
		}
		logger.WithFields(log.Fields{
			"task_id":    task.ID,
			"project_id": task.ProjectID,
		}).Info("orphaned task deleted")
		deleted = append(deleted, task)
	}
	return deleted, nil
}
