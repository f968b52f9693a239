package livesync

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskboard/internal/docstore"
	"taskboard/internal/models"
)

// ProjectTasks mirrors the tasks of one project.
type ProjectTasks struct {
	*Collection
	projectID string
	logger    *log.Logger
}

// OpenProjectTasks subscribes to the tasks whose projectId equals projectID.
func OpenProjectTasks(ctx context.Context, store Store, projectID string, logger *log.Logger) *ProjectTasks {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ProjectTasks{
		Collection: Open(ctx, store, models.CollectionTasks, docstore.Where("projectId", projectID), logger),
		projectID:  projectID,
		logger:     logger,
	}
}

// ProjectID returns the project being mirrored.
func (p *ProjectTasks) ProjectID() string {
	return p.projectID
}

// Tasks decodes the mirrored documents. Documents that cannot be decoded are
// logged and skipped.
func (p *ProjectTasks) Tasks() []models.Task {
	docs := p.Documents()
	tasks := make([]models.Task, 0, len(docs))
	for _, doc := range docs {
		task, err := models.TaskFromDocument(doc)
		if err != nil {
			p.logger.WithError(err).WithField("document_id", doc.ID).Warn("skipping malformed task")
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// ByStatus returns the tasks in one status column, recomputed on each call.
func (p *ProjectTasks) ByStatus(status models.Status) []models.Task {
	var out []models.Task
	for _, t := range p.Tasks() {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func (p *ProjectTasks) Todo() []models.Task       { return p.ByStatus(models.StatusTodo) }
func (p *ProjectTasks) InProgress() []models.Task { return p.ByStatus(models.StatusInProgress) }
func (p *ProjectTasks) Done() []models.Task       { return p.ByStatus(models.StatusDone) }

// AddTask creates a task in the mirrored project. Invalid input, including a
// blank title, performs no write.
func (p *ProjectTasks) AddTask(ctx context.Context, in models.TaskInput) (string, bool) {
	if err := in.Validate(); err != nil {
		p.logger.WithError(err).Debug("task not added")
		return "", false
	}
	return p.Add(ctx, in.Fields(p.projectID))
}

// UpdateTask applies patch to a task. Invalid patches perform no write.
func (p *ProjectTasks) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) bool {
	if err := patch.Validate(); err != nil {
		p.logger.WithError(err).WithField("document_id", id).Debug("task not updated")
		return false
	}
	return p.Update(ctx, id, patch.Fields())
}

// DeleteTask removes a task.
func (p *ProjectTasks) DeleteTask(ctx context.Context, id string) bool {
	return p.Delete(ctx, id)
}
