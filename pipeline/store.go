package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openreel/reelkit/logger"
)

// Template store errors.
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrPresetImmutable  = errors.New("preset template is immutable")
)

// TemplateStore holds the built-in presets plus user templates persisted as
// one JSON file per template under the templates directory.
type TemplateStore struct {
	dir string

	mu     sync.Mutex
	cache  map[string]*Template
	loaded bool
}

// NewTemplateStore creates the templates directory if needed.
func NewTemplateStore(dir string) (*TemplateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create templates dir: %w", err)
	}
	return &TemplateStore{dir: dir, cache: map[string]*Template{}}, nil
}

func (s *TemplateStore) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	for _, preset := range Presets() {
		s.cache[preset.TemplateID] = preset
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.loaded = true
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("failed to read template", "path", path, "error", err)
			continue
		}
		tpl, err := ParseTemplate(data)
		if err != nil {
			logger.Warn("failed to load template", "path", path, "error", err)
			continue
		}
		// Presets are authoritative; disk files never shadow them.
		if existing, ok := s.cache[tpl.TemplateID]; ok && existing.IsPreset {
			continue
		}
		tpl.IsPreset = false
		s.cache[tpl.TemplateID] = tpl
	}
	s.loaded = true
}

// List returns all templates, presets first, then user templates by
// creation time.
func (s *TemplateStore) List() []*Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	out := make([]*Template, 0, len(s.cache))
	for _, t := range s.cache {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPreset != out[j].IsPreset {
			return out[i].IsPreset
		}
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].TemplateID < out[j].TemplateID
	})
	return out
}

// Get returns a copy of the template, or ErrTemplateNotFound.
func (s *TemplateStore) Get(templateID string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	t, ok := s.cache[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	return t.Clone(), nil
}

// Save creates or updates a user template and persists it to disk. Saving
// over a preset id is refused.
func (s *TemplateStore) Save(tpl *Template) (*Template, error) {
	tpl = tpl.Clone()
	tpl.Normalize()
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	if existing, ok := s.cache[tpl.TemplateID]; ok && existing.IsPreset {
		return nil, fmt.Errorf("%w: %s", ErrPresetImmutable, tpl.TemplateID)
	}
	tpl.IsPreset = false
	tpl.UpdatedAt = nowUnix()
	if _, ok := s.cache[tpl.TemplateID]; !ok {
		tpl.CreatedAt = tpl.UpdatedAt
	}
	s.cache[tpl.TemplateID] = tpl

	data, err := json.MarshalIndent(tpl, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	path := filepath.Join(s.dir, tpl.TemplateID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return tpl.Clone(), nil
}

// Delete removes a user template. Presets are refused, unknown ids return
// ErrTemplateNotFound.
func (s *TemplateStore) Delete(templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	t, ok := s.cache[templateID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	if t.IsPreset {
		return fmt.Errorf("%w: %s", ErrPresetImmutable, templateID)
	}
	delete(s.cache, templateID)
	path := filepath.Join(s.dir, templateID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}
