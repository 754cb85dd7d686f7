package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultBranch is used when a project is created without one.
const DefaultBranch = "main"

// ProjectRepository provides owner-scoped operations on projects. A project
// owned by someone else behaves as if it did not exist.
type ProjectRepository interface {
	List(ctx context.Context, ownerID string) ([]*Project, error)
	Get(ctx context.Context, ownerID, id string) (*Project, error)
	Create(ctx context.Context, project *Project) error
	Update(ctx context.Context, ownerID, id string, patch ProjectPatch) (*Project, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type projectRepository struct {
	db *bun.DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *bun.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) List(ctx context.Context, ownerID string) ([]*Project, error) {
	projects := []*Project{}
	err := r.db.NewSelect().
		Model(&projects).
		Where("owner_user_id = ?", ownerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *projectRepository) Get(ctx context.Context, ownerID, id string) (*Project, error) {
	return getProject(ctx, r.db, ownerID, id)
}

func getProject(ctx context.Context, db bun.IDB, ownerID, id string) (*Project, error) {
	project := new(Project)
	err := db.NewSelect().
		Model(project).
		Where("id = ?", id).
		Where("owner_user_id = ?", ownerID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Create fills in the id, default branch and timestamps when they are unset.
func (r *projectRepository) Create(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.DefaultBranch == "" {
		project.DefaultBranch = DefaultBranch
	}
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	if project.UpdatedAt.IsZero() {
		project.UpdatedAt = project.CreatedAt
	}

	_, err := r.db.NewInsert().
		Model(project).
		Exec(ctx)
	return err
}

func (r *projectRepository) Update(ctx context.Context, ownerID, id string, patch ProjectPatch) (*Project, error) {
	var project *Project
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		project, err = getProject(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}

		if patch.Name != nil {
			project.Name = *patch.Name
		}
		if patch.RepoURL != nil {
			project.RepoURL = patch.RepoURL
		}
		if patch.DefaultBranch != nil {
			project.DefaultBranch = *patch.DefaultBranch
		}
		project.UpdatedAt = time.Now().UTC()

		_, err = tx.NewUpdate().
			Model(project).
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Delete removes the project and its sprite records. Deleting a project
// that does not exist is not an error.
func (r *projectRepository) Delete(ctx context.Context, ownerID, id string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*Project)(nil)).
			Where("id = ?", id).
			Where("owner_user_id = ?", ownerID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		_, err = tx.NewDelete().
			Model((*SpriteRecord)(nil)).
			Where("project_id = ?", id).
			Exec(ctx)
		return err
	})
}

// SpriteRepository records the sprites created for projects
type SpriteRepository interface {
	Create(ctx context.Context, record *SpriteRecord) error
	ListByProject(ctx context.Context, projectID string) ([]*SpriteRecord, error)
}

type spriteRepository struct {
	db *bun.DB
}

// NewSpriteRepository creates a new sprite record repository
func NewSpriteRepository(db *bun.DB) SpriteRepository {
	return &spriteRepository{db: db}
}

func (r *spriteRepository) Create(ctx context.Context, record *SpriteRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.NewInsert().
		Model(record).
		Exec(ctx)
	return err
}

func (r *spriteRepository) ListByProject(ctx context.Context, projectID string) ([]*SpriteRecord, error) {
	records := []*SpriteRecord{}
	err := r.db.NewSelect().
		Model(&records).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
