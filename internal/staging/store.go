package staging

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/docforge/toolkit-client/internal/tool"
	"go.uber.org/zap"
)

// Snapshot is the immutable view of the store taken when a job is submitted.
type Snapshot struct {
	Tool   tool.Descriptor
	Files  []StagedFile
	Params map[string]string
}

// Store is the ordered set of files and parameter values collected for the active tool.
type Store struct {
	lock   sync.Mutex
	tool   *tool.Descriptor
	files  []StagedFile
	params map[string]string
}

func NewStore() *Store {
	return &Store{params: map[string]string{}}
}

// SetTool activates a tool and resets everything staged for the previous one.
func (s *Store) SetTool(d tool.Descriptor) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tool = &d
	s.files = nil
	s.params = map[string]string{}
}

// Tool returns the active descriptor, if any.
func (s *Store) Tool() (tool.Descriptor, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.tool == nil {
		return tool.Descriptor{}, false
	}
	return *s.tool, true
}

// Add stages the candidates accepted by the active tool. Rejected candidates are
// dropped without error. For single-file tools the staged set is replaced by the
// last accepted candidate.
func (s *Store) Add(candidates ...StagedFile) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.tool == nil {
		return
	}

	var accepted []StagedFile
	for _, c := range candidates {
		if c.Size <= 0 || !s.tool.Accepts(c.Type) {
			zap.S().Named("staging").Debugw("file dropped", "name", c.Name, "type", c.Type, "size", c.Size, "tool", s.tool.ID)
			continue
		}
		accepted = append(accepted, c)
	}
	if len(accepted) == 0 {
		return
	}

	if !s.tool.Multiple {
		s.files = []StagedFile{accepted[len(accepted)-1]}
		return
	}
	s.files = append(s.files, accepted...)
}

// Remove drops the file at index i. Out of range indexes are ignored.
func (s *Store) Remove(i int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if i < 0 || i >= len(s.files) {
		return
	}
	s.files = slices.Delete(s.files, i, i+1)
}

// RemoveByName drops every staged file with the given name.
func (s *Store) RemoveByName(name string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.files = slices.DeleteFunc(s.files, func(f StagedFile) bool { return f.Name == name })
}

// Clear empties the staged files and parameters, keeping the active tool.
func (s *Store) Clear() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.files = nil
	s.params = map[string]string{}
}

// Reset forgets the active tool as well.
func (s *Store) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tool = nil
	s.files = nil
	s.params = map[string]string{}
}

func (s *Store) SetParam(id, value string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.params[id] = value
}

func (s *Store) Params() map[string]string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return maps.Clone(s.params)
}

func (s *Store) Files() []StagedFile {
	s.lock.Lock()
	defer s.lock.Unlock()
	return slices.Clone(s.files)
}

func (s *Store) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.files)
}

// IsReady gates submission: at least one file and every required field filled.
func (s *Store) IsReady() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.isReady()
}

func (s *Store) isReady() bool {
	if s.tool == nil || len(s.files) == 0 {
		return false
	}
	for _, f := range s.tool.RequiredFields() {
		if strings.TrimSpace(s.params[f.ID]) == "" {
			return false
		}
	}
	return true
}

// Snapshot copies the store. ok is false when the store is not ready.
func (s *Store) Snapshot() (Snapshot, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.isReady() {
		return Snapshot{}, false
	}
	params := make(map[string]string, len(s.tool.Fields))
	for _, f := range s.tool.Fields {
		if v, ok := s.params[f.ID]; ok {
			params[f.ID] = v
		}
	}
	return Snapshot{
		Tool:   *s.tool,
		Files:  slices.Clone(s.files),
		Params: params,
	}, true
}
