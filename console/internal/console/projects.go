package console

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"spriteconsole/console/internal/database"
	"spriteconsole/console/pkg/sprites"
	"spriteconsole/core/auth"
)

type createProjectRequest struct {
	Name          string  `json:"name"`
	RepoURL       *string `json:"repo_url"`
	DefaultBranch string  `json:"default_branch"`
}

type createProjectSpriteRequest struct {
	SpriteName string          `json:"sprite_name"`
	URLAuth    sprites.URLAuth `json:"url_auth"`
}

func ownerID(r *http.Request) string {
	id, _ := auth.IdentityFrom(r.Context())
	return id.UserID
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.db.Projects.List(r.Context(), ownerID(r))
	if err != nil {
		writeStoreError(w, "Not found", err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Project name is required")
		return
	}
	if req.RepoURL != nil && *req.RepoURL == "" {
		req.RepoURL = nil
	}

	project := &database.Project{
		OwnerUserID:   ownerID(r),
		Name:          req.Name,
		RepoURL:       req.RepoURL,
		DefaultBranch: req.DefaultBranch,
	}
	if err := h.db.Projects.Create(r.Context(), project); err != nil {
		writeStoreError(w, "Not found", err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.db.Projects.Get(r.Context(), ownerID(r), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, "Not found", err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var patch database.ProjectPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	project, err := h.db.Projects.Update(r.Context(), ownerID(r), mux.Vars(r)["id"], patch)
	if err != nil {
		writeStoreError(w, "Not found", err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Projects.Delete(r.Context(), ownerID(r), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, "Not found", err)
		return
	}
	writeSuccess(w)
}

func (h *Handler) ListProjectSprites(w http.ResponseWriter, r *http.Request) {
	project, err := h.db.Projects.Get(r.Context(), ownerID(r), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, "Project not found", err)
		return
	}
	records, err := h.db.Sprites.ListByProject(r.Context(), project.ID)
	if err != nil {
		writeStoreError(w, "Project not found", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// CreateProjectSprite creates a sprite upstream and records it under the
// project.
func (h *Handler) CreateProjectSprite(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	project, err := h.db.Projects.Get(r.Context(), ownerID(r), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, "Project not found", err)
		return
	}

	var req createProjectSpriteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.SpriteName == "" {
		writeError(w, http.StatusBadRequest, "Sprite name is required")
		return
	}

	sprite, err := client.CreateSprite(r.Context(), req.SpriteName, req.URLAuth)
	if err != nil {
		writeUpstreamError(w, "create sprite", err)
		return
	}

	org := h.cfg.Sprites.Org
	if org == "" {
		id, _ := auth.IdentityFrom(r.Context())
		org = id.Org
	}
	record := &database.SpriteRecord{
		ProjectID:  project.ID,
		SpriteName: sprite.Name,
		Org:        org,
		Status:     sprite.Status,
		URL:        sprite.URL,
	}
	if err := h.db.Sprites.Create(r.Context(), record); err != nil {
		writeStoreError(w, "Project not found", err)
		return
	}

	log.Info().Str("project_id", project.ID).Str("sprite", sprite.Name).Msg("Project sprite created")
	writeJSON(w, http.StatusCreated, record)
}
