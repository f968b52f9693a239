package livesync

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskboard/internal/docstore"
	"taskboard/internal/models"
)

// Projects mirrors the project list.
type Projects struct {
	*Collection
	logger *log.Logger
}

// OpenProjects subscribes to every project.
func OpenProjects(ctx context.Context, store Store, logger *log.Logger) *Projects {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Projects{
		Collection: Open(ctx, store, models.CollectionProjects, docstore.Filter{}, logger),
		logger:     logger,
	}
}

// Projects decodes the mirrored documents.
func (p *Projects) Projects() []models.Project {
	docs := p.Documents()
	projects := make([]models.Project, 0, len(docs))
	for _, doc := range docs {
		project, err := models.ProjectFromDocument(doc)
		if err != nil {
			p.logger.WithError(err).WithField("document_id", doc.ID).Warn("skipping malformed project")
			continue
		}
		projects = append(projects, project)
	}
	return projects
}

// AddProject creates a project owned by ownerID. A blank title performs no
// write.
func (p *Projects) AddProject(ctx context.Context, ownerID string, in models.ProjectInput) (string, bool) {
	if err := in.Validate(); err != nil {
		p.logger.WithError(err).Debug("project not added")
		return "", false
	}
	return p.Add(ctx, in.Fields(ownerID))
}

// UpdateProject applies patch to a project.
func (p *Projects) UpdateProject(ctx context.Context, id string, patch models.ProjectPatch) bool {
	if err := patch.Validate(); err != nil {
		p.logger.WithError(err).WithField("document_id", id).Debug("project not updated")
		return false
	}
	return p.Update(ctx, id, patch.Fields())
}

// DeleteProject removes a project. Its tasks are left in place.
func (p *Projects) DeleteProject(ctx context.Context, id string) bool {
	return p.Delete(ctx, id)
}
