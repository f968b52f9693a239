// Package seed loads boards described in YAML into the document store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"taskboard/internal/auth"
	"taskboard/internal/livesync"
	"taskboard/internal/models"
)

var ErrNoProjects = errors.New("seed file contains no projects")

// File is the root of a seed document.
type File struct {
	Projects []Project `yaml:"projects"`
}

// Project is a project together with the tasks created inside it.
type Project struct {
	models.ProjectInput `yaml:",inline"`
	Owner               string             `yaml:"owner"`
	Tasks               []models.TaskInput `yaml:"tasks"`
}

// Result counts the documents written by Apply.
type Result struct {
	Projects int
	Tasks    int
}

// LoadFile reads and validates a seed file from disk.
func LoadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a seed document. Unknown keys are rejected.
func Load(r io.Reader) (File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, ErrNoProjects
		}
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

// Validate checks every project and task before anything is written.
func (f File) Validate() error {
	if len(f.Projects) == 0 {
		return ErrNoProjects
	}
	for i, p := range f.Projects {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("project %d: %w", i+1, err)
		}
		for j, t := range p.Tasks {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("project %d (%s) task %d: %w", i+1, p.Title, j+1, err)
			}
		}
	}
	return nil
}

// Apply writes the projects of f and their tasks. Projects without an owner
// are assigned to the anonymous user. It stops at the first failed write and
// reports what was written so far.
func Apply(ctx context.Context, store livesync.Store, f File, logger *log.Logger) (Result, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	projects := livesync.NewWriter(store, models.CollectionProjects, logger)
	tasks := livesync.NewWriter(store, models.CollectionTasks, logger)

	var res Result
	for _, p := range f.Projects {
		owner := p.Owner
		if owner == "" {
			owner = auth.Anonymous
		}
		projectID, ok := projects.Add(ctx, p.Fields(owner))
		if !ok {
			return res, fmt.Errorf("failed to create project %q", p.Title)
		}
		res.Projects++

		for _, t := range p.Tasks {
			if _, ok := tasks.Add(ctx, t.Fields(projectID)); !ok {
				return res, fmt.Errorf("failed to create task %q in project %q", t.Title, p.Title)
			}
			res.Tasks++
		}
		logger.WithFields(log.Fields{
			"project_id": projectID,
			"title":      p.Title,
			"tasks":      len(p.Tasks),
		}).Info("project seeded")
	}
	return res, nil
}
