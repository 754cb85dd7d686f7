package database

import (
	"time"

	"github.com/uptrace/bun"
)

// Project groups the sprites a user created for one repository
type Project struct {
	bun.BaseModel `bun:"table:projects"`

	ID            string    `bun:"id,pk" json:"id"`
	OwnerUserID   string    `bun:"owner_user_id,notnull" json:"owner_user_id"`
	Name          string    `bun:"name,notnull" json:"name"`
	RepoURL       *string   `bun:"repo_url" json:"repo_url"`
	DefaultBranch string    `bun:"default_branch,notnull,default:'main'" json:"default_branch"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`

	// Relations
	Sprites []*SpriteRecord `bun:"rel:has-many,join:id=project_id" json:"-"`
}

// ProjectPatch holds the fields a PATCH may change. Nil fields keep
// their stored value.
type ProjectPatch struct {
	Name          *string `json:"name"`
	RepoURL       *string `json:"repo_url"`
	DefaultBranch *string `json:"default_branch"`
}

// SpriteRecord remembers that a sprite was created for a project
type SpriteRecord struct {
	bun.BaseModel `bun:"table:sprites"`

	ID         string    `bun:"id,pk" json:"id"`
	ProjectID  string    `bun:"project_id,notnull" json:"project_id"`
	SpriteName string    `bun:"sprite_name,notnull" json:"sprite_name"`
	Org        string    `bun:"org" json:"org"`
	Status     string    `bun:"status" json:"status"`
	URL        string    `bun:"url" json:"url"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}
