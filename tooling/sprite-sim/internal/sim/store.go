package sim

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"spriteconsole/console/pkg/sprites"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrExists       = errors.New("already exists")
	ErrInvalidName  = errors.New("sprite names are 1-63 lowercase letters, digits or dashes")
	spriteNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)
)

const (
	StatusCold    = "cold"
	StatusWarm    = "warm"
	StatusRunning = "running"
)

type spriteRecord struct {
	sprite      sprites.Sprite
	checkpoints []sprites.Checkpoint
	urlAuth     sprites.URLAuth
}

// Store keeps sprites and their checkpoints in memory.
type Store struct {
	mu      sync.Mutex
	domain  string
	now     func() time.Time
	sprites map[string]*spriteRecord
}

func NewStore(domain string) *Store {
	return &Store{
		domain:  domain,
		now:     time.Now,
		sprites: make(map[string]*spriteRecord),
	}
}

func (s *Store) Create(name string, urlAuth sprites.URLAuth) (sprites.Sprite, error) {
	if !spriteNameRegex.MatchString(name) {
		return sprites.Sprite{}, ErrInvalidName
	}
	if urlAuth == "" {
		urlAuth = sprites.URLAuthSprite
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sprites[name]; ok {
		return sprites.Sprite{}, fmt.Errorf("sprite %s: %w", name, ErrExists)
	}
	rec := &spriteRecord{
		sprite: sprites.Sprite{
			ID:        uuid.NewString(),
			Name:      name,
			URL:       fmt.Sprintf("https://%s.%s", name, s.domain),
			Status:    StatusCold,
			CreatedAt: s.now().UTC().Format(time.RFC3339),
		},
		urlAuth: urlAuth,
	}
	s.sprites[name] = rec
	return rec.sprite, nil
}

func (s *Store) Get(name string) (sprites.Sprite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sprites[name]
	if !ok {
		return sprites.Sprite{}, fmt.Errorf("sprite %s: %w", name, ErrNotFound)
	}
	return rec.sprite, nil
}

// List returns sprites ordered by name.
func (s *Store) List() []sprites.Sprite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sprites.Sprite, 0, len(s.sprites))
	for _, rec := range s.sprites {
		out = append(out, rec.sprite)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sprites[name]; !ok {
		return fmt.Errorf("sprite %s: %w", name, ErrNotFound)
	}
	delete(s.sprites, name)
	return nil
}

// SetStatus records a lifecycle change. Unknown sprites are ignored.
func (s *Store) SetStatus(name, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sprites[name]; ok {
		rec.sprite.Status = status
	}
}

// Checkpoint appends a checkpoint named v1, v2, ... in creation order.
func (s *Store) Checkpoint(name, comment string) (sprites.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sprites[name]
	if !ok {
		return sprites.Checkpoint{}, fmt.Errorf("sprite %s: %w", name, ErrNotFound)
	}
	cp := sprites.Checkpoint{
		ID:         fmt.Sprintf("v%d", len(rec.checkpoints)+1),
		CreateTime: s.now().UTC().Format(time.RFC3339),
		Comment:    comment,
	}
	rec.checkpoints = append(rec.checkpoints, cp)
	return cp, nil
}

// Checkpoints lists newest first.
func (s *Store) Checkpoints(name string) ([]sprites.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sprites[name]
	if !ok {
		return nil, fmt.Errorf("sprite %s: %w", name, ErrNotFound)
	}
	out := make([]sprites.Checkpoint, 0, len(rec.checkpoints))
	for i := len(rec.checkpoints) - 1; i >= 0; i-- {
		out = append(out, rec.checkpoints[i])
	}
	return out, nil
}

func (s *Store) FindCheckpoint(name, id string) (sprites.Checkpoint, error) {
	list, err := s.Checkpoints(name)
	if err != nil {
		return sprites.Checkpoint{}, err
	}
	for _, cp := range list {
		if cp.ID == id {
			return cp, nil
		}
	}
	return sprites.Checkpoint{}, fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
}
