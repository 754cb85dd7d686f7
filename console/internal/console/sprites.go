package console

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"spriteconsole/console/pkg/sprites"
)

// DefaultCheckpointComment labels checkpoints created without a comment.
const DefaultCheckpointComment = "Checkpoint: manual"

// initDir is where an init clone lands inside the sprite.
const initDir = "/home"

type createSpriteRequest struct {
	Name    string          `json:"name"`
	URLAuth sprites.URLAuth `json:"url_auth"`
}

type checkpointRequest struct {
	Comment string `json:"comment"`
}

type initRequest struct {
	CloneRepo bool   `json:"clone_repo"`
	RepoURL   string `json:"repo_url"`
}

type execStep struct {
	cmd  []string
	opts sprites.ExecOptions
}

func (h *Handler) ListSprites(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	list, err := client.ListSprites(r.Context())
	if err != nil {
		writeUpstreamError(w, "list sprites", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateSprite(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	var req createSpriteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Sprite name is required")
		return
	}

	sprite, err := client.CreateSprite(r.Context(), req.Name, req.URLAuth)
	if err != nil {
		writeUpstreamError(w, "create sprite", err)
		return
	}
	log.Info().Str("sprite", sprite.Name).Msg("Sprite created")
	writeJSON(w, http.StatusCreated, sprite)
}

func (h *Handler) GetSprite(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	sprite, err := client.GetSprite(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeUpstreamError(w, "get sprite", err)
		return
	}
	writeJSON(w, http.StatusOK, sprite)
}

func (h *Handler) DeleteSprite(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	name := mux.Vars(r)["name"]
	if err := client.DeleteSprite(r.Context(), name); err != nil {
		writeUpstreamError(w, "delete sprite", err)
		return
	}
	log.Info().Str("sprite", name).Msg("Sprite deleted")
	writeSuccess(w)
}

func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	list, err := client.ListCheckpoints(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeUpstreamError(w, "list checkpoints", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateCheckpoint(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	var req checkpointRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Comment == "" {
		req.Comment = DefaultCheckpointComment
	}

	name := mux.Vars(r)["name"]
	id, err := client.CreateCheckpoint(r.Context(), name, req.Comment)
	if err != nil {
		writeUpstreamError(w, "create checkpoint", err)
		return
	}
	log.Info().Str("sprite", name).Str("checkpoint_id", id).Msg("Checkpoint created")
	writeJSON(w, http.StatusOK, map[string]string{"checkpoint_id": id})
}

func (h *Handler) RestoreCheckpoint(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	vars := mux.Vars(r)
	if err := client.RestoreCheckpoint(r.Context(), vars["name"], vars["id"]); err != nil {
		writeUpstreamError(w, "restore checkpoint", err)
		return
	}
	log.Info().Str("sprite", vars["name"]).Str("checkpoint_id", vars["id"]).Msg("Checkpoint restored")
	writeSuccess(w)
}

// InitSprite installs common development tools and optionally clones a
// repository into the sprite's home directory.
func (h *Handler) InitSprite(w http.ResponseWriter, r *http.Request, client *sprites.Client) {
	var req initRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	name := mux.Vars(r)["name"]
	steps := []execStep{
		{cmd: []string{"apt-get", "update"}},
		{cmd: []string{"apt-get", "install", "-y", "git", "curl", "build-essential"}},
	}
	if req.CloneRepo && req.RepoURL != "" {
		steps = append(steps, execStep{
			cmd:  []string{"git", "clone", req.RepoURL, "."},
			opts: sprites.ExecOptions{Dir: initDir},
		})
	}

	for _, step := range steps {
		res, err := client.Exec(r.Context(), name, step.cmd, step.opts)
		if err != nil {
			writeUpstreamError(w, "exec", err)
			return
		}
		log.Debug().
			Str("sprite", name).
			Strs("cmd", step.cmd).
			Int("exit_code", res.ExitCode).
			Msg("Init step finished")
	}
	writeSuccess(w)
}
